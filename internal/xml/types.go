package xml

import "github.com/beevik/etree"

// Common XML tag names used in CalDAV
const (
	TagPropfind     = "propfind"
	TagProp         = "prop"
	TagPropname     = "propname"
	TagAllprop      = "allprop"
	TagMultistatus  = "multistatus"
	TagResponse     = "response"
	TagHref         = "href"
	TagPropstat     = "propstat"
	TagStatus       = "status"
	TagError        = "error"
	TagResourcetype = "resourcetype"
	TagCollection   = "collection"
	TagCalendar     = "calendar"

	TagScheduleResponse = "schedule-response"
	TagRecipient        = "recipient"
	TagRequestStatus    = "request-status"
	TagCalendarData     = "calendar-data"
)

// Property represents a generic XML property
type Property struct {
	Name        string
	Namespace   string
	TextContent string
	Children    []Property
}

// Name identifies a property by namespace and local name.
type Name struct {
	Space string
	Local string
}

func (p Property) XMLName() Name {
	return Name{Space: p.Namespace, Local: p.Name}
}

// ToElement converts a Property to an etree.Element
func (p *Property) ToElement() *etree.Element {
	elem := etree.NewElement(Prefix(p.Namespace) + ":" + p.Name)
	if p.TextContent != "" {
		elem.SetText(p.TextContent)
	}
	for _, child := range p.Children {
		elem.AddChild(child.ToElement())
	}
	return elem
}

// FromElement populates a Property from an etree.Element
func (p *Property) FromElement(elem *etree.Element) {
	p.Name = elem.Tag
	p.Namespace = elem.NamespaceURI()
	p.TextContent = elem.Text()
	p.Children = nil
	for _, child := range elem.ChildElements() {
		var c Property
		c.FromElement(child)
		p.Children = append(p.Children, c)
	}
}

// Error represents a WebDAV error response
type Error struct {
	Namespace string
	Tag       string
	Message   string
}

// ToElement converts an Error to an etree.Element
func (e *Error) ToElement() *etree.Element {
	err := etree.NewElement(Prefix(DAV) + ":" + TagError)
	tag := err.CreateElement(Prefix(e.Namespace) + ":" + e.Tag)
	if e.Message != "" {
		tag.SetText(e.Message)
	}
	return err
}
