package transform

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/rflorenc/site-migration-workbench/internal/models"
)

const modelHeader = `<model xmlns="http://namespaces.plone.org/supermodel/schema"
       xmlns:form="http://namespaces.plone.org/supermodel/form"
       xmlns:easyform="http://namespaces.plone.org/supermodel/easyform"
       xmlns:i18n="http://xml.zope.org/namespaces/i18n"
       i18n:domain="collective.easyform">
  <schema>
`

const modelFooter = `  </schema>
</model>
`

// expressionRewrites replaces legacy member lookups with the browser views
// of the target site. Order matters: called forms precede bare ones.
var expressionRewrites = []struct{ old, new string }{
	{"folder.login2mail()", "object.restrictedTraverse('@@memberEmail')()"},
	{"folder.login2mail", "object.restrictedTraverse('@@memberEmail')()"},
	{"folder.login2email()", "object.restrictedTraverse('@@memberEmail')()"},
	{"folder.login2email", "object.restrictedTraverse('@@memberEmail')()"},
	{"folder.login2fullname()", "object.restrictedTraverse('@@memberFullname')()"},
	{"folder.login2ugentid()", "object.restrictedTraverse('@@memberUgentId')()"},
	{"folder.login2voornaam()", "object.restrictedTraverse('@@memberFirstname')()"},
	{"folder.login2voornaam", "object.restrictedTraverse('@@memberFirstname')()"},
	{"folder.login2name()", "object.restrictedTraverse('@@memberLastname')()"},
	{"folder.login2name", "object.restrictedTraverse('@@memberLastname')()"},
	{"folder.login2straat()", "object.restrictedTraverse('@@memberStreet')()"},
	{"folder.login2mobile()", "object.restrictedTraverse('@@memberMobile')()"},
	{"folder.login2studentid()", "object.restrictedTraverse('@@memberStudentId')()"},
	{"folder.login2department()", "object.restrictedTraverse('@@memberDepartment')()"},
	{"folder.login2deptnaam()", "object.restrictedTraverse('@@memberDepartment')()"},
	{"folder.login2plaats()", "object.restrictedTraverse('@@memberLocation')()"},
	{"folder.login2adresdelen()", "object.restrictedTraverse('@@memberAddressParts')()"},
	{"DateTime()", "object.restrictedTraverse('@@datetime_now')()"},
	{"python: folder.end_date_validator(value)", ""},
}

// ReplaceExpressions rewrites legacy scripted expressions.
func ReplaceExpressions(s string) string {
	for _, r := range expressionRewrites {
		s = strings.ReplaceAll(s, r.old, r.new)
	}
	return s
}

// FixOverride turns a legacy request/X override path into the target form
// state path (request/form.widgets.X).
func FixOverride(s string) string {
	if !strings.Contains(s, "request") {
		return s
	}
	prefix := ""
	i := strings.LastIndex(s, "/")
	if i >= 0 {
		prefix = s[:i]
	}
	return prefix + "/form.widgets." + s[i+1:]
}

var vocabularyLiteral = regexp.MustCompile(`'(collective.*)'`)

// VocabularyOverride maps a legacy vocabulary override expression to a
// target vocabulary name, or "" when it matches no known pattern.
func VocabularyOverride(v string) string {
	if strings.Contains(v, "prefill_departments") {
		return "collective.forms.easyform.departments"
	}
	if strings.Contains(v, "getOptions") {
		if m := vocabularyLiteral.FindStringSubmatch(v); m != nil {
			s, _, _ := strings.Cut(m[1], ",")
			return s
		}
	}
	return ""
}

var (
	textEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	attrEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")
)

// Fieldset is one named group of form fields.
type Fieldset struct {
	ID          string
	Title       string
	Description string
	Fields      []string
}

// GroupFieldsets assigns every field of a form to a fieldset. Fields inside
// a FieldsetFolder go to that fieldset. Fields directly in the form go to
// "default" while they precede the first FieldsetFolder and to
// "default-end" after it. Only field types are grouped; adapters and
// thanks pages are not. Empty implicit fieldsets are dropped and
// "default-end" is always last.
func GroupFieldsets(form models.Record, children []models.Record) []*Fieldset {
	def := &Fieldset{ID: "default", Title: "Default", Description: "Default"}
	end := &Fieldset{ID: "default-end", Title: "Default (end)", Description: "Default (end)"}

	var custom []*Fieldset
	byPath := map[string]*Fieldset{}
	firstCustom := -1
	for _, c := range children {
		if c.Type() != "FieldsetFolder" {
			continue
		}
		fs := &Fieldset{ID: c.ObjectID(), Title: c.String("title"), Description: c.String("description")}
		custom = append(custom, fs)
		byPath[c.Path()] = fs
		if c.ParentPath() == form.Path() && (firstCustom < 0 || c.Position() < firstCustom) {
			firstCustom = c.Position()
		}
	}

	seen := map[string]bool{}
	for _, c := range children {
		if _, ok := schemaTypes[c.Type()]; !ok || seen[c.ObjectID()] {
			continue
		}
		seen[c.ObjectID()] = true
		if fs, ok := byPath[c.ParentPath()]; ok {
			fs.Fields = append(fs.Fields, c.ObjectID())
			continue
		}
		if firstCustom < 0 || c.Position() < firstCustom {
			def.Fields = append(def.Fields, c.ObjectID())
		} else {
			end.Fields = append(end.Fields, c.ObjectID())
		}
	}

	var out []*Fieldset
	if len(def.Fields) > 0 {
		out = append(out, def)
	}
	out = append(out, custom...)
	if len(end.Fields) > 0 {
		out = append(out, end)
	}
	return out
}

// Form is the rebuilt dynamic form.
type Form struct {
	FieldsModel  string
	ActionsModel string
	Thanks       map[string]interface{}
}

type formBuilder struct {
	fields  map[string]string
	actions []string
	seen    map[string]bool
	thanks  map[string]interface{}
}

// BuildForm rebuilds the fields and actions models of a form from its
// child records (ordered by position).
func BuildForm(form models.Record, children []models.Record, log zerolog.Logger) *Form {
	b := &formBuilder{
		fields: map[string]string{},
		seen:   map[string]bool{},
		thanks: map[string]interface{}{
			"thanksPrologue":    "",
			"thanksEpilogue":    "",
			"thanksdescription": "",
			"showAll":           true,
			"showFields":        []interface{}{},
			"includeEmpties":    false,
		},
	}
	for _, c := range children {
		id := c.ObjectID()
		if b.seen[id] {
			continue
		}
		b.seen[id] = true
		if err := b.add(c); err != nil {
			if errors.Is(err, ErrUnsupported) {
				log.Info().Str("path", c.Path()).Str("type", c.Type()).Msg("unsupported form child")
			} else {
				log.Error().Err(err).Str("path", c.Path()).Msg("form child not migrated")
			}
		}
	}

	var fm strings.Builder
	fm.WriteString(modelHeader)
	for _, fs := range GroupFieldsets(form, children) {
		fmt.Fprintf(&fm, "    <fieldset name=\"%s\" label=\"%s\" description=\"%s\">\n",
			attrEscaper.Replace(fs.ID), attrEscaper.Replace(fs.Title), attrEscaper.Replace(fs.Description))
		for _, id := range fs.Fields {
			fm.WriteString(b.fields[id])
		}
		fm.WriteString("    </fieldset>\n")
	}
	fm.WriteString(modelFooter)

	var am strings.Builder
	am.WriteString(modelHeader)
	for _, a := range b.actions {
		am.WriteString(a)
	}
	am.WriteString(modelFooter)

	f := &Form{
		FieldsModel:  ReplaceExpressions(fm.String()),
		ActionsModel: am.String(),
		Thanks:       b.thanks,
	}
	if err := WellFormed(f.FieldsModel); err != nil {
		log.Warn().Err(err).Str("path", form.Path()).Msg("malformed fields model")
	}
	if err := WellFormed(f.ActionsModel); err != nil {
		log.Warn().Err(err).Str("path", form.Path()).Msg("malformed actions model")
	}
	return f
}

// WellFormed reports the first XML syntax error of a model document.
func WellFormed(doc string) error {
	d := xml.NewDecoder(strings.NewReader(doc))
	for {
		_, err := d.Token()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

var schemaTypes = map[string]string{
	"FormTextField":           "zope.schema.Text",
	"FormLinesField":          "zope.schema.Text",
	"FormStringField":         "zope.schema.TextLine",
	"FormFixedPointField":     "zope.schema.Float",
	"FormIntegerField":        "zope.schema.Int",
	"FormDateField":           "zope.schema.Datetime",
	"FormFileField":           "plone.namedfile.field.NamedBlobFile",
	"FormBooleanField":        "zope.schema.Bool",
	"FormSelectionField":      "zope.schema.Choice",
	"FormMultiSelectionField": "zope.schema.List",
}

func (b *formBuilder) add(c models.Record) error {
	switch c.Type() {
	case "FieldsetFolder":
		return nil
	case "FormThanksPage":
		b.thanksPage(c)
		return nil
	case "FormMailerAdapter":
		b.actions = append(b.actions, mailer(c))
		return nil
	case "FormSaveDataAdapter":
		b.actions = append(b.actions, `    <field name="Save adapter" type="collective.easyform.actions.SaveData">
      <description/>
      <title>Save adapter</title>
    </field>
`)
		return nil
	case "FormCustomScriptAdapter":
		b.actions = append(b.actions, customScript(c))
		return nil
	}
	if _, ok := schemaTypes[c.Type()]; !ok {
		return fmt.Errorf("form child %s: %w", c.Type(), ErrUnsupported)
	}
	b.fields[c.ObjectID()] = field(c)
	return nil
}

func (b *formBuilder) thanksPage(c models.Record) {
	b.thanks["thanksPrologue"] = text(c, "thanksPrologue", "")
	b.thanks["thanksEpilogue"] = text(c, "thanksEpilogue", "")
	if title := c.String("title"); title != "" {
		b.thanks["thankstitle"] = title
	}
	b.thanks["thanksdescription"] = c.String("description")
	if c.Has("showAll") {
		b.thanks["showAll"] = c.Bool("showAll")
	}
	if sf := c.Strings("showFields"); sf != nil {
		b.thanks["showFields"] = sf
	}
	b.thanks["includeEmpties"] = c.Bool("includeEmpties")
}

// field renders one schema field.
func field(c models.Record) string {
	typ := c.Type()
	var validators string
	if c.String("fgStringValidator") == "isEmail" {
		validators = "isEmail"
	}
	hidden := ""
	if c.Bool("hidden") {
		hidden = "True"
	}

	var s strings.Builder
	fmt.Fprintf(&s, `      <field name="%s" type="%s" easyform:validators="%s" easyform:THidden="%s" easyform:TDefault="%s" easyform:TValidator="%s" easyform:TEnabled="%s" easyform:serverSide="%s">`+"\n",
		attrEscaper.Replace(c.ObjectID()), schemaTypes[typ], validators, hidden,
		attrEscaper.Replace(text(c, "fgTDefault", "")),
		attrEscaper.Replace(text(c, "fgTValidator", "")),
		attrEscaper.Replace(text(c, "fgTEnabled", "")),
		pyBool(c.Bool("serverSide")))
	element(&s, "description", c.String("description"))
	element(&s, "title", c.String("title"))

	switch typ {
	case "FormTextField", "FormLinesField":
		maxLength := text(c, "fgmaxlength", "")
		widget := "collective.minmaxtextarea.browser.widget.MinMaxTextAreaFieldWidget"
		if maxLength == "" || maxLength == "0" {
			maxLength = ""
			widget = "z3c.form.browser.textarea.TextAreaFieldWidget"
		}
		element(&s, "max_length", maxLength)
		element(&s, "required", pyBool(c.Bool("required")))
		fmt.Fprintf(&s, "        <form:widget type=\"%s\">\n", widget)
		fmt.Fprintf(&s, "          <rows>%s</rows>\n", textEscaper.Replace(text(c, "fgRows", "5")))
		fmt.Fprintf(&s, "          <cols>%s</cols>\n", textEscaper.Replace(text(c, "fgCols", "60")))
		s.WriteString("        </form:widget>\n")
	case "FormStringField":
		element(&s, "max_length", text(c, "fgmaxlength", ""))
		element(&s, "required", pyBool(c.Bool("required")))
		element(&s, "default", text(c, "fgDefault", ""))
	case "FormFixedPointField", "FormIntegerField":
		element(&s, "required", pyBool(c.Bool("required")))
		element(&s, "default", text(c, "fgDefault", ""))
	case "FormBooleanField":
		element(&s, "required", pyBool(c.Bool("required")))
		element(&s, "default", text(c, "fgDefault", "False"))
	case "FormSelectionField":
		element(&s, "required", pyBool(c.Bool("required")))
		if vals := c.Strings("fgVocabulary"); len(vals) > 0 {
			s.WriteString("        <values>\n")
			writeValues(&s, vals, "          ")
			s.WriteString("        </values>\n")
		}
		if v := VocabularyOverride(c.String("fgTVocabulary")); v != "" {
			element(&s, "vocabulary", v)
		}
		if c.String("fgFormat") == "radio" {
			s.WriteString("        <form:widget type=\"z3c.form.browser.radio.RadioFieldWidget\"/>\n")
		}
	case "FormMultiSelectionField":
		element(&s, "required", pyBool(c.Bool("required")))
		s.WriteString("        <value_type type=\"zope.schema.Choice\">\n")
		s.WriteString("          <values>\n")
		writeValues(&s, c.Strings("fgVocabulary"), "            ")
		s.WriteString("          </values>\n")
		s.WriteString("        </value_type>\n")
		s.WriteString("        <form:widget type=\"z3c.form.browser.checkbox.CheckBoxFieldWidget\"/>\n")
	default:
		element(&s, "required", pyBool(c.Bool("required")))
	}
	s.WriteString("      </field>\n")
	return s.String()
}

// writeValues renders "key|label" vocabulary entries.
func writeValues(s *strings.Builder, vals []string, indent string) {
	for _, v := range vals {
		if key, label, ok := strings.Cut(v, "|"); ok {
			fmt.Fprintf(s, "%s<element key=\"%s\">%s</element>\n", indent, attrEscaper.Replace(key), textEscaper.Replace(label))
		} else {
			fmt.Fprintf(s, "%s<element>%s</element>\n", indent, textEscaper.Replace(v))
		}
	}
}

func mailer(c models.Record) string {
	// "#NONE#" is how the export wrote unset mailer settings.
	get := func(k string) string {
		v := text(c, k, "")
		if v == "#NONE#" {
			return ""
		}
		return v
	}
	elements := func(k string) string {
		var out []string
		for _, v := range c.Strings(k) {
			out = append(out, "<element>"+textEscaper.Replace(v)+"</element>")
		}
		return strings.Join(out, "")
	}

	var s strings.Builder
	fmt.Fprintf(&s, "    <field name=\"%s\" type=\"collective.easyform.actions.Mailer\" easyform:execCondition=\"%s\">\n",
		attrEscaper.Replace(c.ObjectID()), attrEscaper.Replace(get("execCondition")))
	fmt.Fprintf(&s, "      <additional_headers>%s</additional_headers>\n", elements("additional_headers"))
	element(&s, "bccOverride", FixOverride(get("bccOverride")))
	element(&s, "bcc_recipients", strings.Join(c.Strings("bcc_recipients"), "\n"))
	element(&s, "body_footer", get("body_footer"))
	element(&s, "ccOverride", FixOverride(get("ccOverride")))
	element(&s, "cc_recipients", strings.Join(c.Strings("cc_recipients"), "\n"))
	element(&s, "description", get("description"))
	element(&s, "recipientOverride", FixOverride(get("recipientOverride")))
	element(&s, "recipient_email", FixOverride(get("recipient_email")))
	element(&s, "recipient_name", FixOverride(get("recipient_name")))
	element(&s, "replyto_field", FixOverride(get("replyto_field")))
	element(&s, "sendCSV", "False")
	element(&s, "sendXML", "False")
	element(&s, "senderOverride", FixOverride(get("senderOverride")))
	fmt.Fprintf(&s, "      <showFields>%s</showFields>\n", elements("show_fields"))
	element(&s, "subjectOverride", FixOverride(get("subjectOverride")))
	element(&s, "subject_field", FixOverride(get("subject_field")))
	element(&s, "title", get("title"))
	element(&s, "to_field", get("to_field"))
	s.WriteString("    </field>\n")
	return s.String()
}

func customScript(c models.Record) string {
	var s strings.Builder
	fmt.Fprintf(&s, "    <field name=\"%s\" type=\"collective.easyform.actions.CustomScript\" easyform:execCondition=\"%s\">\n",
		attrEscaper.Replace(c.ObjectID()), attrEscaper.Replace(text(c, "execCondition", "")))
	element(&s, "description", c.String("description"))
	element(&s, "title", c.String("title"))
	element(&s, "ProxyRole", text(c, "ProxyRole", ""))
	element(&s, "ScriptBody", text(c, "ScriptBody", ""))
	s.WriteString("    </field>\n")
	return s.String()
}

func element(s *strings.Builder, name, value string) {
	fmt.Fprintf(s, "        <%s>%s</%s>\n", name, textEscaper.Replace(value), name)
}

func pyBool(b bool) string {
	if b {
		return "True"
	}
	return "False"
}

// text renders a scalar field the way the export's Python side printed it.
func text(rec models.Record, key, def string) string {
	switch v := rec[key].(type) {
	case nil:
		return def
	case string:
		return v
	case bool:
		return pyBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

func (t *Transformer) formFields(ctx context.Context, rec models.Record) (map[string]interface{}, error) {
	children, err := t.children.Descendants(ctx, rec.Path())
	if err != nil {
		return nil, fmt.Errorf("form children: %w", err)
	}
	form := BuildForm(rec, children, t.log.With().Str("form", rec.Path()).Logger())

	f := map[string]interface{}{
		"fields_model":     form.FieldsModel,
		"actions_model":    form.ActionsModel,
		"exclude_from_nav": true,
		"form_tabbing":     false,
	}
	if v := rec.String("formPrologue"); v != "" {
		f["formPrologue"] = v
	}
	if v := rec.String("formEpilogue"); v != "" {
		f["formEpilogue"] = v
	}
	for k, v := range form.Thanks {
		f[k] = v
	}
	return f, nil
}
