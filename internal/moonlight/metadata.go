// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package moonlight

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"strings"
)

const rawPreviewLimit = 512

var errMalformed = errors.New("malformed server info")

// ServerMetadata is what the streaming service reports about itself.
type ServerMetadata struct {
	Hostname         string `json:"hostname"`
	UniqueID         string `json:"uniqueid,omitempty"`
	State            string `json:"state,omitempty"`
	AppVersion       string `json:"appversion,omitempty"`
	GfeVersion       string `json:"gfe_version,omitempty"`
	PairStatus       string `json:"pair_status,omitempty"`
	HTTPSPort        string `json:"https_port,omitempty"`
	CodecModeSupport string `json:"codec_mode_support,omitempty"`
	Scheme           string `json:"scheme"`
	Port             int    `json:"port"`
	Raw              string `json:"raw,omitempty"`
}

type serverInfoXML struct {
	XMLName          xml.Name `xml:"root"`
	StatusCode       string   `xml:"status_code,attr"`
	Hostname         string   `xml:"hostname"`
	AppVersion       string   `xml:"appversion"`
	GfeVersion       string   `xml:"GfeVersion"`
	UniqueID         string   `xml:"uniqueid"`
	State            string   `xml:"state"`
	PairStatus       string   `xml:"PairStatus"`
	HTTPSPort        string   `xml:"HttpsPort"`
	CodecModeSupport string   `xml:"ServerCodecModeSupport"`
}

type serverInfoJSON struct {
	Hostname         string          `json:"hostname"`
	AppVersion       string          `json:"appversion"`
	GfeVersion       string          `json:"GfeVersion"`
	UniqueID         string          `json:"uniqueid"`
	State            string          `json:"state"`
	PairStatus       json.RawMessage `json:"PairStatus"`
	HTTPSPort        json.RawMessage `json:"HttpsPort"`
	CodecModeSupport json.RawMessage `json:"ServerCodecModeSupport"`
}

// ParseServerInfo accepts the native XML document or a JSON equivalent.
// A document without a hostname, or with a non-200 status_code, is malformed.
func ParseServerInfo(body []byte) (*ServerMetadata, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty body", errMalformed)
	}

	var md ServerMetadata
	switch trimmed[0] {
	case '<':
		var doc serverInfoXML
		if err := xml.Unmarshal(trimmed, &doc); err != nil {
			return nil, fmt.Errorf("%w: %v", errMalformed, err)
		}
		if doc.StatusCode != "" && doc.StatusCode != "200" {
			return nil, fmt.Errorf("%w: status_code %s", errMalformed, doc.StatusCode)
		}
		md = ServerMetadata{
			Hostname:         doc.Hostname,
			UniqueID:         doc.UniqueID,
			State:            doc.State,
			AppVersion:       doc.AppVersion,
			GfeVersion:       doc.GfeVersion,
			PairStatus:       doc.PairStatus,
			HTTPSPort:        doc.HTTPSPort,
			CodecModeSupport: doc.CodecModeSupport,
		}
	case '{':
		var doc serverInfoJSON
		if err := json.Unmarshal(trimmed, &doc); err != nil {
			return nil, fmt.Errorf("%w: %v", errMalformed, err)
		}
		md = ServerMetadata{
			Hostname:         doc.Hostname,
			UniqueID:         doc.UniqueID,
			State:            doc.State,
			AppVersion:       doc.AppVersion,
			GfeVersion:       doc.GfeVersion,
			PairStatus:       scalar(doc.PairStatus),
			HTTPSPort:        scalar(doc.HTTPSPort),
			CodecModeSupport: scalar(doc.CodecModeSupport),
		}
	default:
		return nil, fmt.Errorf("%w: unrecognised document", errMalformed)
	}

	md.Hostname = strings.TrimSpace(md.Hostname)
	if md.Hostname == "" {
		return nil, fmt.Errorf("%w: missing hostname", errMalformed)
	}
	md.Raw = preview(trimmed)
	return &md, nil
}

// scalar renders a JSON string or number without quotes.
func scalar(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func preview(b []byte) string {
	if len(b) > rawPreviewLimit {
		return string(b[:rawPreviewLimit]) + "..."
	}
	return string(b)
}

type pairXML struct {
	XMLName    xml.Name `xml:"root"`
	StatusCode string   `xml:"status_code,attr"`
	Paired     string   `xml:"paired"`
	PlainCert  string   `xml:"plaincert"`
}

// parsePairResponse reports whether the response carries session material.
// Bodies that are not XML are tolerated.
func parsePairResponse(body []byte) (paired bool, cert bool) {
	var doc pairXML
	if err := xml.Unmarshal(bytes.TrimSpace(body), &doc); err != nil {
		return false, false
	}
	return strings.TrimSpace(doc.Paired) == "1", strings.TrimSpace(doc.PlainCert) != ""
}
