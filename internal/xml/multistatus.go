package xml

import (
	"fmt"
	"io"

	"github.com/beevik/etree"
)

// Status lines used in propstat and response elements.
const (
	StatusOK       = "HTTP/1.1 200 OK"
	StatusNotFound = "HTTP/1.1 404 Not Found"
)

// MultistatusResponse represents a multistatus response
type MultistatusResponse struct {
	Responses []Response
}

// Response represents a single response within a multistatus
type Response struct {
	Href      string
	PropStats []PropStat
	Error     *Error
	Status    string
}

// PropStat represents property status in a response
type PropStat struct {
	Props  []Property
	Status string
}

// ToXML converts a MultistatusResponse to an XML document
func (m *MultistatusResponse) ToXML() *etree.Document {
	doc, root := newDocument(DAV, TagMultistatus)
	for _, resp := range m.Responses {
		response := newElement(root, DAV, TagResponse)
		newElement(response, DAV, TagHref).SetText(resp.Href)

		switch {
		case resp.Error != nil:
			response.AddChild(resp.Error.ToElement())
		case resp.Status != "":
			newElement(response, DAV, TagStatus).SetText(resp.Status)
		default:
			for _, ps := range resp.PropStats {
				propstat := newElement(response, DAV, TagPropstat)
				prop := newElement(propstat, DAV, TagProp)
				for _, p := range ps.Props {
					prop.AddChild(p.ToElement())
				}
				newElement(propstat, DAV, TagStatus).SetText(ps.Status)
			}
		}
	}
	return doc
}

// WriteTo writes the document with indentation.
func (m *MultistatusResponse) WriteTo(w io.Writer) (int64, error) {
	doc := m.ToXML()
	doc.Indent(2)
	return doc.WriteTo(w)
}

// ParseMultistatus reads a multistatus document.
func ParseMultistatus(r io.Reader) (*MultistatusResponse, error) {
	doc := etree.NewDocument()
	if _, err := doc.ReadFrom(r); err != nil {
		return nil, fmt.Errorf("failed to read multistatus: %w", err)
	}
	root := doc.Root()
	if root == nil || root.Tag != TagMultistatus || root.NamespaceURI() != DAV {
		return nil, fmt.Errorf("invalid root element")
	}

	m := &MultistatusResponse{}
	for _, respElem := range children(root, DAV, TagResponse) {
		var resp Response
		if href := child(respElem, DAV, TagHref); href != nil {
			resp.Href = href.Text()
		}
		if status := child(respElem, DAV, TagStatus); status != nil {
			resp.Status = status.Text()
		}
		if errElem := child(respElem, DAV, TagError); errElem != nil {
			if inner := errElem.ChildElements(); len(inner) > 0 {
				resp.Error = &Error{Namespace: inner[0].NamespaceURI(), Tag: inner[0].Tag, Message: inner[0].Text()}
			}
		}
		for _, psElem := range children(respElem, DAV, TagPropstat) {
			var ps PropStat
			if prop := child(psElem, DAV, TagProp); prop != nil {
				for _, p := range prop.ChildElements() {
					var property Property
					property.FromElement(p)
					ps.Props = append(ps.Props, property)
				}
			}
			if status := child(psElem, DAV, TagStatus); status != nil {
				ps.Status = status.Text()
			}
			resp.PropStats = append(resp.PropStats, ps)
		}
		m.Responses = append(m.Responses, resp)
	}
	return m, nil
}

// Find returns the property with the given name from the first propstat of
// resp carrying status.
func (resp Response) Find(status string, name Name) (Property, bool) {
	for _, ps := range resp.PropStats {
		if ps.Status != status {
			continue
		}
		for _, p := range ps.Props {
			if p.XMLName() == name {
				return p, true
			}
		}
	}
	return Property{}, false
}

func children(parent *etree.Element, ns, tag string) []*etree.Element {
	var out []*etree.Element
	for _, c := range parent.ChildElements() {
		if c.Tag == tag && c.NamespaceURI() == ns {
			out = append(out, c)
		}
	}
	return out
}

func child(parent *etree.Element, ns, tag string) *etree.Element {
	if cs := children(parent, ns, tag); len(cs) > 0 {
		return cs[0]
	}
	return nil
}
