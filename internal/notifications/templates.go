package notifications

import (
	"bytes"
	_ "embed"
	"fmt"
	htmltemplate "html/template"
	texttemplate "text/template"

	"gopkg.in/yaml.v3"

	"github.com/angelmondragon/kitafinder-backend/pkg/enums"
)

//go:embed templates.yaml
var templatesYAML []byte

type rawTemplate struct {
	Subject string `yaml:"subject"`
	Text    string `yaml:"text"`
	HTML    string `yaml:"html"`
}

type compiled struct {
	subject *texttemplate.Template
	text    *texttemplate.Template
	html    *htmltemplate.Template
}

// Rendered is a localized message ready to hand to a mailer.
type Rendered struct {
	Subject string
	Text    string
	HTML    string
}

// TemplateData is the set of values every template may reference.
type TemplateData struct {
	Name        string
	Amount      string
	ListingsURL string
	BillingURL  string
}

// Catalog holds the compiled templates per kind and locale.
type Catalog struct {
	entries map[enums.NotificationKind]map[enums.Locale]compiled
}

// LoadCatalog parses the embedded templates. Every kind must ship every locale.
func LoadCatalog() (*Catalog, error) {
	return parseCatalog(templatesYAML)
}

func parseCatalog(raw []byte) (*Catalog, error) {
	var doc map[string]map[string]rawTemplate
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse notification templates: %w", err)
	}
	cat := &Catalog{entries: make(map[enums.NotificationKind]map[enums.Locale]compiled, len(doc))}
	for rawKind, locales := range doc {
		kind, err := enums.ParseNotificationKind(rawKind)
		if err != nil {
			return nil, err
		}
		cat.entries[kind] = make(map[enums.Locale]compiled, len(locales))
		for rawLocale, tmpl := range locales {
			locale := enums.Locale(rawLocale)
			if locale != enums.LocaleEN && locale != enums.LocaleDE {
				return nil, fmt.Errorf("template %s: unsupported locale %q", kind, rawLocale)
			}
			c, err := compile(fmt.Sprintf("%s.%s", kind, locale), tmpl)
			if err != nil {
				return nil, err
			}
			cat.entries[kind][locale] = c
		}
	}
	for _, kind := range []enums.NotificationKind{
		enums.NotificationSubscriptionActivated,
		enums.NotificationPaymentConfirmed,
		enums.NotificationPaymentFailed,
		enums.NotificationSubscriptionPastDue,
		enums.NotificationSubscriptionCanceled,
	} {
		for _, locale := range []enums.Locale{enums.LocaleEN, enums.LocaleDE} {
			if _, ok := cat.entries[kind][locale]; !ok {
				return nil, fmt.Errorf("template %s.%s missing", kind, locale)
			}
		}
	}
	return cat, nil
}

func compile(name string, tmpl rawTemplate) (compiled, error) {
	if tmpl.Subject == "" || tmpl.Text == "" || tmpl.HTML == "" {
		return compiled{}, fmt.Errorf("template %s: subject, text and html are required", name)
	}
	opt := "missingkey=error"
	subject, err := texttemplate.New(name + ".subject").Option(opt).Parse(tmpl.Subject)
	if err != nil {
		return compiled{}, fmt.Errorf("template %s subject: %w", name, err)
	}
	text, err := texttemplate.New(name + ".text").Option(opt).Parse(tmpl.Text)
	if err != nil {
		return compiled{}, fmt.Errorf("template %s text: %w", name, err)
	}
	html, err := htmltemplate.New(name + ".html").Option(opt).Parse(tmpl.HTML)
	if err != nil {
		return compiled{}, fmt.Errorf("template %s html: %w", name, err)
	}
	return compiled{subject: subject, text: text, html: html}, nil
}

// Render produces the localized message. Unknown locales fall back to English.
func (c *Catalog) Render(kind enums.NotificationKind, locale enums.Locale, data TemplateData) (Rendered, error) {
	byLocale, ok := c.entries[kind]
	if !ok {
		return Rendered{}, fmt.Errorf("no template for %q", kind)
	}
	tmpl, ok := byLocale[locale]
	if !ok {
		tmpl = byLocale[enums.DefaultLocale]
	}
	var subject, text, html bytes.Buffer
	if err := tmpl.subject.Execute(&subject, data); err != nil {
		return Rendered{}, err
	}
	if err := tmpl.text.Execute(&text, data); err != nil {
		return Rendered{}, err
	}
	if err := tmpl.html.Execute(&html, data); err != nil {
		return Rendered{}, err
	}
	return Rendered{Subject: subject.String(), Text: text.String(), HTML: html.String()}, nil
}
