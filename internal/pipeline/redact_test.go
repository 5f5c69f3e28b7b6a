package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedact_Email(t *testing.T) {
	r := NewRegexRedactor()

	redacted, m, err := r.Redact("reach me at jane.doe@example.com please")
	require.NoError(t, err)

	assert.Equal(t, "reach me at [EMAIL_1] please", redacted)
	assert.Equal(t, "jane.doe@example.com", m["[EMAIL_1]"])
}

func TestRedact_CardClaimedBeforePhone(t *testing.T) {
	r := NewRegexRedactor()

	redacted, m, err := r.Redact("card 4111 1111 1111 1111 on file")
	require.NoError(t, err)

	assert.Equal(t, "card [CARD_1] on file", redacted)
	assert.Equal(t, "4111 1111 1111 1111", m["[CARD_1]"])
}

func TestRedact_Phone(t *testing.T) {
	r := NewRegexRedactor()

	redacted, m, err := r.Redact("call +84 912 345 678 tomorrow")
	require.NoError(t, err)

	assert.Contains(t, redacted, "[PHONE_1]")
	assert.NotContains(t, redacted, "912")
	require.Len(t, m, 1)
}

func TestRedact_LocalPhone(t *testing.T) {
	r := NewRegexRedactor()

	redacted, _, err := r.Redact("số điện thoại 0912345678 nhé")
	require.NoError(t, err)
	assert.Contains(t, redacted, "[PHONE_1]")
}

func TestRedact_BareIDNumber(t *testing.T) {
	r := NewRegexRedactor()

	redacted, m, err := r.Redact("my tax number is 987654321")
	require.NoError(t, err)

	assert.Equal(t, "my tax number is [ID_1]", redacted)
	assert.Equal(t, "987654321", m["[ID_1]"])
}

func TestRedact_RepeatedValueSharesPlaceholder(t *testing.T) {
	r := NewRegexRedactor()

	redacted, m, err := r.Redact("a@b.io wrote to a@b.io")
	require.NoError(t, err)

	assert.Equal(t, "[EMAIL_1] wrote to [EMAIL_1]", redacted)
	assert.Len(t, m, 1)
}

func TestRedact_MultipleKindsIndexIndependently(t *testing.T) {
	r := NewRegexRedactor()

	redacted, m, err := r.Redact("a@b.io and c@d.io")
	require.NoError(t, err)

	assert.Equal(t, "[EMAIL_1] and [EMAIL_2]", redacted)
	assert.Len(t, m, 2)
}

func TestRedact_NothingToRedact(t *testing.T) {
	r := NewRegexRedactor()

	redacted, m, err := r.Redact("build me a REST API")
	require.NoError(t, err)

	assert.Equal(t, "build me a REST API", redacted)
	assert.Empty(t, m)
}

func TestRestore_RoundTrip(t *testing.T) {
	r := NewRegexRedactor()
	original := "email jane.doe@example.com, card 4111-1111-1111-1111"

	redacted, m, err := r.Redact(original)
	require.NoError(t, err)
	require.NotEqual(t, original, redacted)

	assert.Equal(t, original, r.Restore(redacted, m))
}

func TestRestore_EmptyMapIsIdentity(t *testing.T) {
	r := NewRegexRedactor()
	assert.Equal(t, "unchanged", r.Restore("unchanged", RedactionMap{}))
}
