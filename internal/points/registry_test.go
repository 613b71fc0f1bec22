package points

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vetgate/vetgate/internal/datasources"
	"github.com/vetgate/vetgate/pkg/schema"
)

func TestRegistryRegisterAndLookup(t *testing.T) {
	r := NewRegistry(nil)

	require.NoError(t, r.Register("loan.approval", "Loan Approval", "gates loan disbursement", "lending", []string{"Amount", "Status"}))
	require.NoError(t, r.Register("transfer.submit", "Transfer Submit", "", "payments", []string{Wildcard}))

	assert.True(t, r.Exists("loan.approval"))
	assert.False(t, r.Exists("unknown"))
	assert.Equal(t, 2, r.Count())

	p, err := r.Get("loan.approval")
	require.NoError(t, err)
	assert.Equal(t, "Loan Approval", p.Name)
	assert.Equal(t, []string{"Amount", "Status"}, p.AllowedDataSources)

	_, err = r.Get("unknown")
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeNotFound, schema.CodeOf(err))
}

func TestRegistryEmptyCodeRejected(t *testing.T) {
	r := NewRegistry(nil)
	err := r.Register("", "X", "", "", nil)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))
}

func TestRegistryReRegisterOverwrites(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.Register("loan.approval", "Old Name", "", "", nil))
	require.NoError(t, r.Register("loan.approval", "New Name", "", "", []string{"Amount"}))

	p, err := r.Get("loan.approval")
	require.NoError(t, err)
	assert.Equal(t, "New Name", p.Name)
	assert.Equal(t, 1, r.Count())
}

func TestRegistryCategories(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.Register("a", "A", "", "lending", nil))
	require.NoError(t, r.Register("b", "B", "", "payments", nil))
	require.NoError(t, r.Register("c", "C", "", "lending", nil))
	require.NoError(t, r.Register("d", "D", "", "", nil))

	assert.Equal(t, []string{"lending", "payments"}, r.Categories())

	lending := r.ListByCategory("lending")
	require.Len(t, lending, 2)
	assert.Equal(t, "a", lending[0].Code)
	assert.Equal(t, "c", lending[1].Code)
}

func TestIsDataSourceAllowed(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.Register("narrow", "N", "", "", []string{"Amount"}))
	require.NoError(t, r.Register("open", "O", "", "", []string{Wildcard}))

	assert.True(t, r.IsDataSourceAllowed("narrow", "Amount"))
	assert.False(t, r.IsDataSourceAllowed("narrow", "Status"))
	assert.True(t, r.IsDataSourceAllowed("open", "Anything"))
	assert.False(t, r.IsDataSourceAllowed("unknown", "Amount"))
}

func TestAllowedDataSourceDetails(t *testing.T) {
	sources := datasources.NewRegistry(nil)
	require.NoError(t, sources.Register("Amount", []string{"user_id"}, schema.ReturnReal, "requested amount", func(userID string) (float64, error) {
		return 0, nil
	}))

	r := NewRegistry(nil)
	require.NoError(t, r.Register("loan.approval", "Loan", "", "", []string{"Amount", "Ghost"}))

	details, err := r.AllowedDataSourceDetails("loan.approval", sources)
	require.NoError(t, err)
	require.Len(t, details, 2)

	assert.Equal(t, "Amount", details[0].Name)
	assert.True(t, details[0].Registered)
	assert.Equal(t, []string{"user_id"}, details[0].Parameters)
	assert.Equal(t, schema.ReturnReal, details[0].ReturnKind)

	// Allowed but unregistered names are still listed, with a warning.
	assert.Equal(t, "Ghost", details[1].Name)
	assert.False(t, details[1].Registered)
	assert.NotEmpty(t, details[1].Warning)
}

func TestAllowedDataSourceDetailsWildcard(t *testing.T) {
	sources := datasources.NewRegistry(nil)
	require.NoError(t, sources.Register("A", nil, schema.ReturnString, "", func() (string, error) { return "", nil }))
	require.NoError(t, sources.Register("B", nil, schema.ReturnString, "", func() (string, error) { return "", nil }))

	r := NewRegistry(nil)
	require.NoError(t, r.Register("open", "O", "", "", []string{Wildcard}))

	details, err := r.AllowedDataSourceDetails("open", sources)
	require.NoError(t, err)
	require.Len(t, details, 2)
	assert.Equal(t, "A", details[0].Name)
	assert.Equal(t, "B", details[1].Name)
}
