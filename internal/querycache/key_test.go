package querycache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeys(t *testing.T) {
	a := NewKey(KindInvoices, "status=paid", "patient_id=1")
	b := NewKey(KindInvoices, "patient_id=1", "", "status=paid")
	assert.Equal(t, a, b)
	assert.Equal(t, "invoices?patient_id=1&status=paid", a.String())
	assert.Equal(t, a, ParseKey(a.String()))
	assert.Equal(t, NewKey(KindDashboard), ParseKey("dashboard:stats"))

	assert.True(t, KindKey(KindInvoices).Matches(a))
	assert.True(t, a.Matches(b))
	assert.False(t, a.Matches(NewKey(KindInvoices)))
	assert.False(t, KindKey(KindPatients).Matches(a))
}

func TestUpdatersLeaveInputUntouched(t *testing.T) {
	in := []string{"a", "b", "c"}

	assert.Equal(t, []string{"z", "a", "b", "c"}, Prepend("z")(in))
	assert.Equal(t, []string{"a", "B", "c"}, UpdateWhere(
		func(s string) bool { return s == "b" },
		func(string) string { return "B" },
	)(in))
	assert.Equal(t, []string{"a", "c"}, RemoveWhere(func(s string) bool { return s == "b" })(in))
	assert.Equal(t, 7, Replace(7)(3))

	assert.Equal(t, []string{"a", "b", "c"}, in)
}
