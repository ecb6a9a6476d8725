package lti

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplaceResult(t *testing.T) {
	raw, err := ReplaceResult("msg-1", "src&1", 0.75)
	require.NoError(t, err)
	s := string(raw)
	assert.True(t, strings.HasPrefix(s, "<?xml"))
	assert.Contains(t, s, `<imsx_POXEnvelopeRequest xmlns="`+outcomeNamespace+`">`)
	assert.Contains(t, s, "<imsx_messageIdentifier>msg-1</imsx_messageIdentifier>")
	assert.Contains(t, s, "<sourcedId>src&amp;1</sourcedId>")
	assert.Contains(t, s, "<textString>0.75</textString>")

	_, err = ReplaceResult("msg-2", "src", 1.5)
	assert.Error(t, err)
}

func TestParseOutcomeResponse(t *testing.T) {
	const tmpl = `<?xml version="1.0" encoding="UTF-8"?>
<imsx_POXEnvelopeResponse xmlns="http://www.imsglobal.org/services/ltiv1p1/xsd/imsoms_v1p0">
  <imsx_POXHeader>
    <imsx_POXResponseHeaderInfo>
      <imsx_version>V1.0</imsx_version>
      <imsx_messageIdentifier>4560</imsx_messageIdentifier>
      <imsx_statusInfo>
        <imsx_codeMajor>CODE</imsx_codeMajor>
        <imsx_severity>status</imsx_severity>
        <imsx_description>DESC</imsx_description>
        <imsx_messageRefIdentifier>999999123</imsx_messageRefIdentifier>
        <imsx_operationRefIdentifier>replaceResult</imsx_operationRefIdentifier>
      </imsx_statusInfo>
    </imsx_POXResponseHeaderInfo>
  </imsx_POXHeader>
  <imsx_POXBody><replaceResultResponse/></imsx_POXBody>
</imsx_POXEnvelopeResponse>`

	ok, err := ParseOutcomeResponse([]byte(strings.NewReplacer("CODE", "success", "DESC", "Score set").Replace(tmpl)))
	require.NoError(t, err)
	assert.True(t, ok.Success())

	failed, err := ParseOutcomeResponse([]byte(strings.NewReplacer("CODE", "failure", "DESC", "Invalid sourcedid").Replace(tmpl)))
	require.NoError(t, err)
	assert.False(t, failed.Success())
	assert.Equal(t, "Invalid sourcedid", failed.Description)

	_, err = ParseOutcomeResponse([]byte("<html>not found</html"))
	assert.Error(t, err)
	_, err = ParseOutcomeResponse([]byte("<html>fine</html>"))
	assert.Error(t, err)
}
