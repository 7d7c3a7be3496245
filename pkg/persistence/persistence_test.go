package persistence

import (
	"encoding/base64"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type counters struct {
	Round int               `json:"round"`
	Names map[string]string `json:"names"`
}

type holder struct {
	Counters *counters `persistence:"counters"`
	Seen     *[]string `persistence:"seen"`
	Skipped  int
}

type unencodable struct {
	Ch chan int
}

type partial struct {
	Counters *counters    `persistence:"counters"`
	Broken   *unencodable `persistence:"broken"`
}

func services(t *testing.T) map[string]Service {
	t.Helper()
	bs, err := OpenBadger(BadgerOptions{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = bs.Close() })
	return map[string]Service{
		"json":   NewJSONFileService(t.TempDir()),
		"badger": bs,
	}
}

func TestStore_SaveLoad(t *testing.T) {
	for name, svc := range services(t) {
		t.Run(name, func(t *testing.T) {
			store := svc.NewStore("state", "acdm", "counters")

			var got counters
			assert.ErrorIs(t, store.Load(&got), ErrNotExists)

			want := counters{Round: 3, Names: map[string]string{"a": "b"}}
			require.NoError(t, store.Save(want))
			require.NoError(t, store.Load(&got))
			assert.Equal(t, want, got)
		})
	}
}

func TestSaveLoadFields(t *testing.T) {
	for name, svc := range services(t) {
		t.Run(name, func(t *testing.T) {
			seen := []string{"x", "y"}
			in := holder{Counters: &counters{Round: 7}, Seen: &seen, Skipped: 9}
			require.NoError(t, SaveFields(&in, "acdm", svc))

			out := holder{Skipped: 1}
			n, err := LoadFields(&out, "acdm", svc)
			require.NoError(t, err)
			assert.Equal(t, 2, n)
			require.NotNil(t, out.Counters)
			assert.Equal(t, 7, out.Counters.Round)
			assert.Equal(t, []string{"x", "y"}, *out.Seen)
			assert.Equal(t, 1, out.Skipped)

			empty := holder{Skipped: 2}
			n, err = LoadFields(&empty, "other", svc)
			require.NoError(t, err)
			assert.Equal(t, 0, n)
			assert.Nil(t, empty.Counters)
		})
	}
}

func TestSaveFields_EncodeFailureWritesNothing(t *testing.T) {
	for name, svc := range services(t) {
		t.Run(name, func(t *testing.T) {
			in := partial{Counters: &counters{Round: 1}, Broken: &unencodable{Ch: make(chan int)}}
			assert.Error(t, SaveFields(&in, "acdm", svc))

			var out partial
			n, err := LoadFields(&out, "acdm", svc)
			require.NoError(t, err)
			assert.Equal(t, 0, n)
		})
	}
}

func TestSaveFields_RejectsNonPointerField(t *testing.T) {
	bad := struct {
		Round int `persistence:"round"`
	}{Round: 1}
	err := SaveFields(&bad, "acdm", NewJSONFileService(t.TempDir()))
	assert.Error(t, err)

	err = SaveFields(bad, "acdm", NewJSONFileService(t.TempDir()))
	assert.Error(t, err)
}

func TestJSONCommit_ReplacesAllFiles(t *testing.T) {
	svc := NewJSONFileService(t.TempDir())
	require.NoError(t, svc.Commit("state", "acdm", map[string][]byte{
		"a": []byte(`{"round":1}`),
		"b": []byte(`{"round":2}`),
	}))
	require.NoError(t, svc.Commit("state", "acdm", map[string][]byte{
		"a": []byte(`{"round":3}`),
		"b": []byte(`{"round":4}`),
	}))

	var a, b counters
	require.NoError(t, svc.NewStore("state", "acdm", "a").Load(&a))
	require.NoError(t, svc.NewStore("state", "acdm", "b").Load(&b))
	assert.Equal(t, 3, a.Round)
	assert.Equal(t, 4, b.Round)

	matches, err := filepath.Glob(filepath.Join(svc.baseDir, "*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestParseKey(t *testing.T) {
	key, err := ParseKey("")
	require.NoError(t, err)
	assert.Nil(t, key)

	hexKey := "0x" + strings.Repeat("ab", 32)
	key, err = ParseKey(hexKey)
	require.NoError(t, err)
	assert.Len(t, key, 32)

	key, err = ParseKey(base64.StdEncoding.EncodeToString(make([]byte, 32)))
	require.NoError(t, err)
	assert.Len(t, key, 32)

	_, err = ParseKey("abcd")
	assert.Error(t, err)
}
