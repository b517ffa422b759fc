// Package android reads and writes Android strings.xml resource files.
//
// Only <string> resources take part in synchronization. Resources marked
// translatable="false" are parsed but excluded from Keys, Values and
// Collection. Other resource kinds (<string-array>, <plurals>) are skipped.
//
// Translated files live next to the source under a locale qualified
// directory:
//
//	<res>/values/strings.xml        source
//	<res>/values-es/strings.xml     Spanish
//	<res>/values-pt-rBR/strings.xml Brazilian Portuguese
//	<res>/values-b+sr+Latn/...      Serbian, Latin script
package android

import (
	"encoding/xml"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"golang.org/x/text/language"

	"github.com/bandapella/translatr-gradle-plugin/catalog"
)

// ErrNotFound is returned by ParseFile when the file does not exist. It
// matches fs.ErrNotExist.
var ErrNotFound = fmt.Errorf("strings file not found: %w", fs.ErrNotExist)

// ---------------------------------------------------------------------------
// Data model
// ---------------------------------------------------------------------------

// Entry is a single <string> resource.
type Entry struct {
	Name string
	// Value has Android apostrophe escapes removed (\' becomes ').
	Value        string
	Translatable bool
	// UseCDATA records that the source wrapped the value in CDATA.
	UseCDATA bool
}

// File is a parsed strings.xml.
type File struct {
	Entries []*Entry
	byName  map[string]int
}

// ---------------------------------------------------------------------------
// Parsing
// ---------------------------------------------------------------------------

// ParseFile reads and parses a strings.xml file. A missing file yields an
// error wrapping ErrNotFound.
func ParseFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return f, nil
}

// encoding/xml hands CDATA over as plain CharData, so CDATA usage is
// detected on the raw bytes first.
var reStringCDATA = regexp.MustCompile(`<string\s[^>]*name="([^"]+)"[^>]*>\s*<!\[CDATA\[`)

// Parse parses strings.xml data.
func Parse(data []byte) (*File, error) {
	f := &File{byName: make(map[string]int)}

	cdata := make(map[string]bool)
	for _, m := range reStringCDATA.FindAllSubmatch(data, -1) {
		cdata[string(m[1])] = true
	}

	dec := xml.NewDecoder(strings.NewReader(string(data)))
	inResources := false
	sawResources := false

	for {
		tok, err := dec.Token()
		if err != nil {
			if err == io.EOF {
				break
			}
			return nil, err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "resources" {
				inResources = true
				sawResources = true
				continue
			}
			if !inResources {
				continue
			}
			if t.Name.Local != "string" {
				if err := dec.Skip(); err != nil {
					return nil, err
				}
				continue
			}
			e, err := parseString(dec, t)
			if err != nil {
				return nil, err
			}
			if e.Name == "" {
				continue
			}
			e.UseCDATA = cdata[e.Name]
			f.add(e)

		case xml.EndElement:
			if t.Name.Local == "resources" {
				inResources = false
			}
		}
	}

	if !sawResources && len(strings.TrimSpace(string(data))) > 0 {
		return nil, fmt.Errorf("no <resources> element")
	}
	return f, nil
}

func (f *File) add(e *Entry) {
	if idx, ok := f.byName[e.Name]; ok {
		f.Entries[idx] = e
		return
	}
	f.byName[e.Name] = len(f.Entries)
	f.Entries = append(f.Entries, e)
}

func parseString(dec *xml.Decoder, elem xml.StartElement) (*Entry, error) {
	e := &Entry{Translatable: true}
	for _, attr := range elem.Attr {
		switch attr.Name.Local {
		case "name":
			e.Name = attr.Value
		case "translatable":
			if strings.EqualFold(attr.Value, "false") {
				e.Translatable = false
			}
		}
	}

	var b strings.Builder
	if err := readContent(dec, &b); err != nil {
		return nil, fmt.Errorf("reading <string name=%q>: %w", e.Name, err)
	}
	e.Value = unescapeApostrophe(b.String())
	return e, nil
}

// readContent reads the inner content of an element up to its close tag.
// Inline children such as <xliff:g> or <b> are kept as raw markup.
func readContent(dec *xml.Decoder, b *strings.Builder) error {
	depth := 1
	for depth > 0 {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.CharData:
			b.Write(t)
		case xml.StartElement:
			depth++
			b.WriteString("<" + qualifiedName(t.Name))
			for _, attr := range t.Attr {
				fmt.Fprintf(b, ` %s="%s"`, qualifiedName(attr.Name), attr.Value)
			}
			b.WriteString(">")
		case xml.EndElement:
			depth--
			if depth > 0 {
				b.WriteString("</" + qualifiedName(t.Name) + ">")
			}
		}
	}
	return nil
}

// qualifiedName renders a name with its prefix. The decoder resolves
// prefixes to namespace URLs; the well-known xliff namespace is mapped back.
func qualifiedName(n xml.Name) string {
	switch n.Space {
	case "":
		return n.Local
	case "urn:oasis:names:tc:xliff:document:1.2":
		return "xliff:" + n.Local
	default:
		return n.Space + ":" + n.Local
	}
}

// ---------------------------------------------------------------------------
// Accessors
// ---------------------------------------------------------------------------

// Keys returns translatable resource names in document order.
func (f *File) Keys() []string {
	var keys []string
	for _, e := range f.Entries {
		if e.Translatable {
			keys = append(keys, e.Name)
		}
	}
	return keys
}

// Values returns name -> value for translatable resources.
func (f *File) Values() map[string]string {
	out := make(map[string]string)
	for _, e := range f.Entries {
		if e.Translatable {
			out[e.Name] = e.Value
		}
	}
	return out
}

// Get returns the entry with the given name, or nil.
func (f *File) Get(name string) *Entry {
	idx, ok := f.byName[name]
	if !ok {
		return nil
	}
	return f.Entries[idx]
}

// Collection returns translatable resources as an ordered catalog.
func (f *File) Collection() (*catalog.Collection, error) {
	entries := make([]catalog.Entry, 0, len(f.Entries))
	for _, e := range f.Entries {
		if e.Translatable {
			entries = append(entries, catalog.Entry{Key: e.Name, Value: e.Value})
		}
	}
	return catalog.New(entries)
}

// ReadKeyOrder returns the resource names of an existing file in document
// order. A missing or unreadable file yields an empty order.
func ReadKeyOrder(path string) []string {
	f, err := ParseFile(path)
	if err != nil {
		return nil
	}
	return f.Keys()
}

// ---------------------------------------------------------------------------
// Writing
// ---------------------------------------------------------------------------

// OutputPath returns <dir>/<prefix>-<qualifier>/<fileName> for lang.
func OutputPath(dir, prefix, lang, fileName string) (string, error) {
	q, err := LocaleQualifier(lang)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, prefix+"-"+q, fileName), nil
}

// Write replaces the output file for lang with values in the given order.
// Keys missing from order are appended in lexical order; order entries
// without a value are skipped. It returns the written path.
func Write(dir, prefix, lang, fileName string, values map[string]string, order []string) (string, error) {
	path, err := OutputPath(dir, prefix, lang, fileName)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("creating directory: %w", err)
	}
	if err := os.WriteFile(path, Marshal(values, order), 0644); err != nil {
		return "", fmt.Errorf("writing %s: %w", path, err)
	}
	return path, nil
}

// Marshal renders values as a pretty-printed strings.xml document.
func Marshal(values map[string]string, order []string) []byte {
	var b strings.Builder
	b.WriteString("<?xml version=\"1.0\" encoding=\"utf-8\"?>\n")
	if usesXliff(values) {
		b.WriteString("<resources xmlns:xliff=\"urn:oasis:names:tc:xliff:document:1.2\">\n")
	} else {
		b.WriteString("<resources>\n")
	}
	for _, key := range completeOrder(values, order) {
		fmt.Fprintf(&b, "    <string name=\"%s\">%s</string>\n", attrEscape(key), escapeValue(values[key]))
	}
	b.WriteString("</resources>\n")
	return []byte(b.String())
}

func usesXliff(values map[string]string) bool {
	for _, v := range values {
		if strings.Contains(v, "<xliff:") {
			return true
		}
	}
	return false
}

func completeOrder(values map[string]string, order []string) []string {
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, k := range order {
		if _, ok := values[k]; ok && !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	var rest []string
	for k := range values {
		if !seen[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	return append(out, rest...)
}

// escapeValue escapes text content per AAPT rules. Values carrying inline
// markup (both < and >) are written as-is apart from apostrophes.
func escapeValue(s string) string {
	if strings.Contains(s, "<") && strings.Contains(s, ">") {
		return escapeApostrophe(s)
	}
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return escapeApostrophe(s)
}

func attrEscape(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, `"`, "&quot;")
	return strings.ReplaceAll(s, "<", "&lt;")
}

func unescapeApostrophe(s string) string {
	return strings.ReplaceAll(s, `\'`, `'`)
}

// escapeApostrophe escapes apostrophes without double-escaping.
func escapeApostrophe(s string) string {
	return strings.ReplaceAll(unescapeApostrophe(s), `'`, `\'`)
}

// ---------------------------------------------------------------------------
// Locale qualifiers
// ---------------------------------------------------------------------------

// LocaleQualifier converts a BCP-47 code into an Android resource qualifier:
// "es" -> "es", "pt-BR" -> "pt-rBR", "sr-Latn" -> "b+sr+Latn". Deprecated
// codes are kept as given ("iw" stays "iw"), so the directory round-trips
// to the code the service used.
func LocaleQualifier(lang string) (string, error) {
	tag, err := language.Raw.Parse(strings.ReplaceAll(strings.TrimSpace(lang), "_", "-"))
	if err != nil {
		return "", fmt.Errorf("invalid language code %q: %w", lang, err)
	}
	base, _ := tag.Base()
	script, sConf := tag.Script()
	region, rConf := tag.Region()

	if sConf == language.Exact {
		q := "b+" + base.String() + "+" + script.String()
		if rConf == language.Exact {
			q += "+" + region.String()
		}
		return q, nil
	}
	if rConf == language.Exact {
		return base.String() + "-r" + region.String(), nil
	}
	return base.String(), nil
}

// LanguageFromQualifier is the inverse of LocaleQualifier.
func LanguageFromQualifier(q string) string {
	if strings.HasPrefix(q, "b+") {
		return strings.ReplaceAll(strings.TrimPrefix(q, "b+"), "+", "-")
	}
	if idx := strings.Index(q, "-r"); idx >= 0 {
		return q[:idx] + "-" + q[idx+2:]
	}
	return q
}

// DetectLanguages lists the languages that already have an output file
// under dir, sorted.
func DetectLanguages(dir, prefix, fileName string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var langs []string
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() || !strings.HasPrefix(name, prefix+"-") {
			continue
		}
		q := strings.TrimPrefix(name, prefix+"-")
		if q == "" {
			continue
		}
		if _, err := os.Stat(filepath.Join(dir, name, fileName)); err == nil {
			langs = append(langs, LanguageFromQualifier(q))
		}
	}
	sort.Strings(langs)
	return langs
}
