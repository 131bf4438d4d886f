// Package xml builds and reads the WebDAV and CalDAV documents the server
// exchanges with clients.
package xml

import "github.com/beevik/etree"

// Namespace definitions for CalDAV and WebDAV
const (
	// DAV is the WebDAV namespace
	DAV = "DAV:"
	// CalDAV is the CalDAV namespace
	CalDAV = "urn:ietf:params:xml:ns:caldav"
	// CalendarServer is the Calendar Server namespace (used by some implementations)
	CalendarServer = "http://calendarserver.org/ns/"
)

var prefixes = map[string]string{
	DAV:            "D",
	CalDAV:         "C",
	CalendarServer: "CS",
}

// Prefix returns the prefix documents use for ns. Unknown namespaces map to
// the DAV prefix.
func Prefix(ns string) string {
	if p, ok := prefixes[ns]; ok {
		return p
	}
	return prefixes[DAV]
}

// AddNamespaces adds standard CalDAV namespaces to the XML document
func AddNamespaces(doc *etree.Document) {
	root := doc.Root()
	if root == nil {
		return
	}
	root.CreateAttr("xmlns:D", DAV)
	root.CreateAttr("xmlns:C", CalDAV)
	root.CreateAttr("xmlns:CS", CalendarServer)
}

// newElement creates a prefixed child of parent.
func newElement(parent *etree.Element, ns, tag string) *etree.Element {
	return parent.CreateElement(Prefix(ns) + ":" + tag)
}

// newDocument starts a document whose prefixed root declares every namespace.
func newDocument(ns, tag string) (*etree.Document, *etree.Element) {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	root := doc.CreateElement(Prefix(ns) + ":" + tag)
	AddNamespaces(doc)
	return doc, root
}
