package alarm

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"strings"

	"anpr-session-service/internal/domain/anpr"
)

var (
	ErrEmptyBody  = errors.New("empty alarm body")
	ErrInvalidXML = errors.New("invalid alarm xml")
)

var utf8BOM = []byte("\xef\xbb\xbf")

// notification mirrors Hikvision's EventNotificationAlert. Element names are
// matched without namespace.
type notification struct {
	XMLName    xml.Name `xml:"EventNotificationAlert"`
	IPAddress  string   `xml:"ipAddress"`
	MACAddress string   `xml:"macAddress"`
	ChannelID  string   `xml:"channelID"`
	DateTime   string   `xml:"dateTime"`
	EventType  string   `xml:"eventType"`
	EventState string   `xml:"eventState"`
	TargetType string   `xml:"targetType"`
}

// Parse decodes an alarm callback body. Multipart bodies (alarms that carry
// pictures) are searched for their XML part.
func Parse(contentType string, body []byte) (anpr.Alarm, error) {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err == nil && strings.HasPrefix(mediaType, "multipart/") {
		part, err := xmlPart(body, params["boundary"])
		if err != nil {
			return anpr.Alarm{}, err
		}
		body = part
	}
	return ParseXML(body)
}

func ParseXML(body []byte) (anpr.Alarm, error) {
	body = bytes.TrimSpace(bytes.TrimPrefix(bytes.TrimSpace(body), utf8BOM))
	if len(body) == 0 {
		return anpr.Alarm{}, ErrEmptyBody
	}

	var n notification
	if err := xml.Unmarshal(body, &n); err != nil {
		return anpr.Alarm{}, fmt.Errorf("%w: %v", ErrInvalidXML, err)
	}

	return anpr.Alarm{
		IPAddress:  strings.TrimSpace(n.IPAddress),
		MACAddress: strings.TrimSpace(n.MACAddress),
		ChannelID:  strings.TrimSpace(n.ChannelID),
		DateTime:   strings.TrimSpace(n.DateTime),
		EventType:  strings.TrimSpace(n.EventType),
		EventState: strings.TrimSpace(n.EventState),
		TargetType: strings.TrimSpace(n.TargetType),
	}, nil
}

func xmlPart(body []byte, boundary string) ([]byte, error) {
	if boundary == "" {
		return nil, fmt.Errorf("%w: multipart body without boundary", ErrInvalidXML)
	}
	r := multipart.NewReader(bytes.NewReader(body), boundary)
	for {
		p, err := r.NextPart()
		if err == io.EOF {
			return nil, ErrEmptyBody
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidXML, err)
		}
		ct := p.Header.Get("Content-Type")
		if strings.Contains(ct, "xml") || strings.HasSuffix(strings.ToLower(p.FileName()), ".xml") {
			data, err := io.ReadAll(p)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidXML, err)
			}
			return data, nil
		}
	}
}
