package lti

import (
	"encoding/xml"
	"fmt"
	"strconv"
)

const outcomeNamespace = "http://www.imsglobal.org/services/ltiv1p1/xsd/imsoms_v1p0"

// replaceResult request envelope
type outcomeRequest struct {
	XMLName   xml.Name `xml:"imsx_POXEnvelopeRequest"`
	Namespace string   `xml:"xmlns,attr"`
	Version   string   `xml:"imsx_POXHeader>imsx_POXRequestHeaderInfo>imsx_version"`
	MessageID string   `xml:"imsx_POXHeader>imsx_POXRequestHeaderInfo>imsx_messageIdentifier"`
	SourcedID string   `xml:"imsx_POXBody>replaceResultRequest>resultRecord>sourcedGUID>sourcedId"`
	Language  string   `xml:"imsx_POXBody>replaceResultRequest>resultRecord>result>resultScore>language"`
	Score     string   `xml:"imsx_POXBody>replaceResultRequest>resultRecord>result>resultScore>textString"`
}

// OutcomeStatus is the status block of an outcome service response.
type OutcomeStatus struct {
	CodeMajor   string `xml:"imsx_POXHeader>imsx_POXResponseHeaderInfo>imsx_statusInfo>imsx_codeMajor"`
	Severity    string `xml:"imsx_POXHeader>imsx_POXResponseHeaderInfo>imsx_statusInfo>imsx_severity"`
	Description string `xml:"imsx_POXHeader>imsx_POXResponseHeaderInfo>imsx_statusInfo>imsx_description"`
}

func (s *OutcomeStatus) Success() bool {
	return s.CodeMajor == "success"
}

// ReplaceResult builds the replaceResult request setting the gradebook
// cell named by sourcedID to score, which must lie in [0, 1].
func ReplaceResult(messageID, sourcedID string, score float64) ([]byte, error) {
	if score < 0 || score > 1 {
		return nil, fmt.Errorf("score %g is outside [0, 1]", score)
	}
	req := &outcomeRequest{
		Namespace: outcomeNamespace,
		Version:   "V1.0",
		MessageID: messageID,
		SourcedID: sourcedID,
		Language:  "en",
		Score:     strconv.FormatFloat(score, 'f', -1, 64),
	}
	raw, err := xml.MarshalIndent(req, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), raw...), nil
}

// ParseOutcomeResponse extracts the status block from an
// imsx_POXEnvelopeResponse document.
func ParseOutcomeResponse(body []byte) (*OutcomeStatus, error) {
	status := new(OutcomeStatus)
	if err := xml.Unmarshal(body, status); err != nil {
		return nil, fmt.Errorf("parsing outcome response: %w", err)
	}
	if status.CodeMajor == "" {
		return nil, fmt.Errorf("parsing outcome response: no imsx_codeMajor found")
	}
	return status, nil
}
