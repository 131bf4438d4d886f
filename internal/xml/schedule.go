package xml

import (
	"fmt"
	"io"

	"github.com/beevik/etree"
	"github.com/samber/mo"
)

// Request statuses reported per recipient.
const (
	RequestStatusSuccess      = "2.0;Success"
	RequestStatusNoScheduling = "5.3;No scheduling support for user."
)

// ScheduleResponseItem is one recipient entry of a schedule-response.
type ScheduleResponseItem struct {
	Recipient     string
	RequestStatus string
	CalendarData  mo.Option[string]
}

// ScheduleResponse is the CalDAV reply to a free/busy POST.
type ScheduleResponse struct {
	Items []ScheduleResponseItem
}

// ToXML converts the response to a C:schedule-response document.
func (s *ScheduleResponse) ToXML() *etree.Document {
	doc, root := newDocument(CalDAV, TagScheduleResponse)
	for _, item := range s.Items {
		resp := newElement(root, CalDAV, TagResponse)
		recipient := newElement(resp, CalDAV, TagRecipient)
		newElement(recipient, DAV, TagHref).SetText(item.Recipient)
		newElement(resp, CalDAV, TagRequestStatus).SetText(item.RequestStatus)
		if data, ok := item.CalendarData.Get(); ok {
			newElement(resp, CalDAV, TagCalendarData).SetText(data)
		}
	}
	return doc
}

// WriteTo writes the document with indentation.
func (s *ScheduleResponse) WriteTo(w io.Writer) (int64, error) {
	doc := s.ToXML()
	doc.Indent(2)
	return doc.WriteTo(w)
}

// ParseScheduleResponse reads a schedule-response document.
func ParseScheduleResponse(r io.Reader) (*ScheduleResponse, error) {
	doc := etree.NewDocument()
	if _, err := doc.ReadFrom(r); err != nil {
		return nil, fmt.Errorf("failed to read schedule-response: %w", err)
	}
	root := doc.Root()
	if root == nil || root.Tag != TagScheduleResponse || root.NamespaceURI() != CalDAV {
		return nil, fmt.Errorf("invalid root element")
	}
	s := &ScheduleResponse{}
	for _, resp := range children(root, CalDAV, TagResponse) {
		var item ScheduleResponseItem
		if recipient := child(resp, CalDAV, TagRecipient); recipient != nil {
			if href := child(recipient, DAV, TagHref); href != nil {
				item.Recipient = href.Text()
			}
		}
		if status := child(resp, CalDAV, TagRequestStatus); status != nil {
			item.RequestStatus = status.Text()
		}
		if data := child(resp, CalDAV, TagCalendarData); data != nil {
			item.CalendarData = mo.Some(data.Text())
		}
		s.Items = append(s.Items, item)
	}
	return s, nil
}
