package scmc

import (
	"fmt"
	"strings"
)

// InquiryDataLen is the minimum standard INQUIRY response this package
// will decode.
const InquiryDataLen = 36

// DeviceTypeChanger is the peripheral device type code for a medium
// changer.
const DeviceTypeChanger = 0x08

// Inquiry is the decoded standard INQUIRY response.
type Inquiry struct {
	DeviceType byte
	Removable  bool
	Vendor     string
	Product    string
	Revision   string
}

// IsChanger reports whether the device identifies as a medium changer.
func (i *Inquiry) IsChanger() bool {
	return i.DeviceType == DeviceTypeChanger
}

func (i *Inquiry) String() string {
	return fmt.Sprintf("%s %s %s", i.Vendor, i.Product, i.Revision)
}

// ParseInquiry decodes a standard INQUIRY response. The fixed-width
// ASCII identity fields are trimmed of trailing padding.
func ParseInquiry(raw []byte) (*Inquiry, error) {
	if len(raw) < InquiryDataLen {
		return nil, fmt.Errorf("%w: inquiry data %d bytes, need %d", ErrMalformed, len(raw), InquiryDataLen)
	}
	return &Inquiry{
		DeviceType: raw[0] & 0x1F,
		Removable:  raw[1]&0x80 != 0,
		Vendor:     trimField(raw[8:16]),
		Product:    trimField(raw[16:32]),
		Revision:   trimField(raw[32:36]),
	}, nil
}

func trimField(b []byte) string {
	return strings.TrimRight(string(b), " \x00")
}
