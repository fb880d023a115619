package strategy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/Pinman777/PBGui-TEST/internal/market"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateAndGet(t *testing.T) {
	s := newTestStore(t)
	st, err := s.Create("sma-cross", "双均线", "dev")
	require.NoError(t, err)
	assert.NotEmpty(t, st.ID)
	assert.Equal(t, market.TypeSwap, st.MarketType)
	assert.Equal(t, 100, st.Limit)

	got, err := s.Get(st.ID)
	require.NoError(t, err)
	assert.Equal(t, "sma-cross", got.Name)
}

func TestSavePersistsToDisk(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir)
	require.NoError(t, err)
	defer s.Close()

	st, err := s.Create("persisted", "", "")
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, st.ID+".json"))
	require.NoError(t, err)

	// 重新打开能读回。
	s2, err := NewStore(dir)
	require.NoError(t, err)
	defer s2.Close()
	got, err := s2.Get(st.ID)
	require.NoError(t, err)
	assert.Equal(t, "persisted", got.Name)
}

func TestSaveRejectsEmptyName(t *testing.T) {
	s := newTestStore(t)
	err := s.Save(Strategy{})
	require.Error(t, err)
	assert.True(t, market.IsValidationError(err))
}

func TestSaveRejectsBadTimeframe(t *testing.T) {
	s := newTestStore(t)
	st := New("bad-tf", "", "")
	st.Timeframes = []string{"7h"}
	err := s.Save(st)
	require.Error(t, err)
	assert.True(t, market.IsValidationError(err))
}

func TestValidateParametersRejectsNested(t *testing.T) {
	err := ValidateParameters(map[string]any{"fast": 10, "slow": 30})
	require.NoError(t, err)

	err = ValidateParameters(map[string]any{"nested": map[string]any{"a": 1}})
	require.Error(t, err)
	assert.True(t, market.IsValidationError(err))
}

func TestDelete(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir)
	require.NoError(t, err)
	defer s.Close()

	st, err := s.Create("doomed", "", "")
	require.NoError(t, err)
	require.NoError(t, s.Delete(st.ID))

	_, err = s.Get(st.ID)
	assert.ErrorIs(t, err, market.ErrNotFound)
	_, err = os.Stat(filepath.Join(dir, st.ID+".json"))
	assert.True(t, os.IsNotExist(err))

	assert.ErrorIs(t, s.Delete(st.ID), market.ErrNotFound)
}

func TestListSortedByName(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Create("zeta", "", "")
	require.NoError(t, err)
	_, err = s.Create("alpha", "", "")
	require.NoError(t, err)

	list := s.List()
	require.Len(t, list, 2)
	assert.Equal(t, "alpha", list[0].Name)
	assert.Equal(t, "zeta", list[1].Name)
}

func TestImportYAML(t *testing.T) {
	s := newTestStore(t)
	raw := []byte(`
name: rsi-reversion
producer: rsi
parameters:
  period: 14
  oversold: 30
timeframes: ["4h"]
market_type: swap
limit: 200
`)
	st, err := s.ImportYAML(raw)
	require.NoError(t, err)
	assert.NotEmpty(t, st.ID)
	assert.Equal(t, "rsi-reversion", st.Name)
	assert.Equal(t, 200, st.Limit)

	out, err := s.ExportJSON(st.ID)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"rsi-reversion"`)
}

func TestImportYAMLRejectsUnknownField(t *testing.T) {
	s := newTestStore(t)
	_, err := s.ImportYAML([]byte("name: x\nbogus_field: 1\n"))
	require.Error(t, err)
	assert.True(t, market.IsValidationError(err))
}
