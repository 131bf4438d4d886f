package xml

import (
	"bytes"
	"fmt"
	"io"

	"github.com/beevik/etree"
	"github.com/samber/mo"
)

// PropfindRequest represents a PROPFIND request body. Props is empty when
// the client asked for allprop or propname.
type PropfindRequest struct {
	Props     []Name
	AllProp   bool
	PropNames bool
}

// ParsePropfind reads a PROPFIND body. An empty body means allprop.
func ParsePropfind(r io.Reader) (PropfindRequest, error) {
	body, err := io.ReadAll(r)
	if err != nil {
		return PropfindRequest{}, fmt.Errorf("failed to read request body: %w", err)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return PropfindRequest{AllProp: true}, nil
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(body); err != nil {
		return PropfindRequest{}, fmt.Errorf("failed to parse XML: %w", err)
	}
	root := doc.Root()
	if root == nil || root.Tag != TagPropfind || root.NamespaceURI() != DAV {
		return PropfindRequest{}, fmt.Errorf("invalid root element")
	}

	req := PropfindRequest{
		AllProp:   child(root, DAV, TagAllprop) != nil,
		PropNames: child(root, DAV, TagPropname) != nil,
	}
	if prop := child(root, DAV, TagProp); prop != nil {
		for _, p := range prop.ChildElements() {
			req.Props = append(req.Props, Name{Space: p.NamespaceURI(), Local: p.Tag})
		}
	}
	if !req.AllProp && !req.PropNames && len(req.Props) == 0 {
		return PropfindRequest{}, fmt.Errorf("propfind names no properties")
	}
	return req, nil
}

// Depth is the parsed Depth header. None stands for infinity.
type Depth = mo.Option[int]

// ParseDepth reads a Depth header, defaulting to def when absent.
func ParseDepth(header string, def Depth) (Depth, error) {
	switch header {
	case "":
		return def, nil
	case "0":
		return mo.Some(0), nil
	case "1":
		return mo.Some(1), nil
	case "infinity":
		return mo.None[int](), nil
	default:
		return def, fmt.Errorf("invalid depth %q", header)
	}
}
