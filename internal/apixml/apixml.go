// Package apixml defines the XML documents exchanged with the webapi
// endpoints. Every response is an <api> element holding either an <error>
// element or a <result> element, plus optional login state.
package apixml

import (
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
)

const ContentType = "application/xml; charset=utf-8"

// Attribute values shared by several operations.
const (
	Yes               = "yes"
	No                = "no"
	AutosaveAvailable = "available"
	AutosaveNone      = "none"
)

type Document struct {
	XMLName xml.Name `xml:"api"`
	Error   *Error   `xml:"error,omitempty"`
	Result  *Result  `xml:"result,omitempty"`
	Login   *Login   `xml:"login,omitempty"`
	Cookies *Cookies `xml:"cookies,omitempty"`
}

type Error struct {
	Info string `xml:"info,attr"`
}

// Result carries operation specific attributes and children.
type Result struct {
	Attrs        []xml.Attr    `xml:",any,attr"`
	Fields       []Field       `xml:"field,omitempty"`
	Recipients   []Recipient   `xml:"recipient,omitempty"`
	Contributors []Contributor `xml:"contributor,omitempty"`
}

type Field struct {
	ID    string `xml:"id,attr"`
	Value string `xml:",chardata"`
}

type Recipient struct {
	ID    string `xml:"id,attr"`
	Name  string `xml:"name,attr"`
	Count int    `xml:"count,attr"`
}

type Contributor struct {
	Name  string `xml:"name,attr"`
	Ready string `xml:"ready,attr"`
}

type Login struct {
	LoggedIn string `xml:"loggedin,attr"`
	Message  string `xml:",chardata"`
}

type Cookies struct {
	Cookie []Cookie `xml:"cookie"`
}

type Cookie struct {
	Name    string `xml:"name,attr"`
	Expires string `xml:"expires,attr,omitempty"`
	Path    string `xml:"path,attr,omitempty"`
	Value   string `xml:"value"`
}

// NewResult builds a result from alternating attribute names and values.
func NewResult(pairs ...string) *Result {
	r := &Result{}
	for i := 0; i+1 < len(pairs); i += 2 {
		r.Set(pairs[i], pairs[i+1])
	}
	return r
}

// Attr returns the named attribute, or "" when absent.
func (r *Result) Attr(name string) string {
	if r == nil {
		return ""
	}
	for _, a := range r.Attrs {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

func (r *Result) Set(name, value string) {
	for i, a := range r.Attrs {
		if a.Name.Local == name {
			r.Attrs[i].Value = value
			return
		}
	}
	r.Attrs = append(r.Attrs, xml.Attr{Name: xml.Name{Local: name}, Value: value})
}

// FieldValues returns the field children keyed by id.
func (r *Result) FieldValues() map[string]string {
	out := make(map[string]string)
	if r == nil {
		return out
	}
	for _, f := range r.Fields {
		out[f.ID] = f.Value
	}
	return out
}

func (l *Login) IsLoggedIn() bool {
	return l != nil && l.LoggedIn == Yes
}

func ErrorDocument(info string) *Document {
	return &Document{Error: &Error{Info: info}}
}

func ResultDocument(r *Result) *Document {
	return &Document{Result: r}
}

func Encode(w io.Writer, doc *Document) error {
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode api document: %w", err)
	}
	return enc.Flush()
}

func Decode(r io.Reader) (*Document, error) {
	var doc Document
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode api document: %w", err)
	}
	return &doc, nil
}

// Bool renders a flag the way the attributes expect.
func Bool(v bool) string {
	if v {
		return Yes
	}
	return No
}

// Count parses an integer attribute, returning -1 when it is not a number.
func Count(value string) int {
	n, err := strconv.Atoi(value)
	if err != nil {
		return -1
	}
	return n
}
