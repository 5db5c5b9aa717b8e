// internal/storage/file_storage_test.go
package storage

import (
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testDoc struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func newTestStorage(t *testing.T) *FileStorage {
	t.Helper()
	fs, err := NewFileStorage(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	return fs
}

func TestSaveAndLoadJSONFile(t *testing.T) {
	fs := newTestStorage(t)

	doc := testDoc{Name: "测试", Count: 3}
	require.NoError(t, fs.SaveJSONFile("productions/p1", "doc.json", doc))

	var loaded testDoc
	require.NoError(t, fs.LoadJSONFile("productions/p1", "doc.json", &loaded))
	assert.Equal(t, doc, loaded)

	// 临时文件不应残留
	assert.False(t, fs.FileExists("productions/p1", "doc.json.tmp"))
}

func TestSaveInvalidatesCache(t *testing.T) {
	fs := newTestStorage(t)

	require.NoError(t, fs.SaveJSONFile("p1", "doc.json", testDoc{Name: "v1"}))

	var first testDoc
	require.NoError(t, fs.LoadJSONFile("p1", "doc.json", &first))

	// 覆盖写入后读取必须返回新值而非缓存
	require.NoError(t, fs.SaveJSONFile("p1", "doc.json", testDoc{Name: "v2"}))

	var second testDoc
	require.NoError(t, fs.LoadJSONFile("p1", "doc.json", &second))
	assert.Equal(t, "v2", second.Name)
}

func TestLoadMissingFile(t *testing.T) {
	fs := newTestStorage(t)

	var doc testDoc
	err := fs.LoadJSONFile("p1", "missing.json", &doc)
	require.Error(t, err)
}

func TestFileAndDirExists(t *testing.T) {
	fs := newTestStorage(t)

	assert.False(t, fs.DirExists("p1"))
	assert.False(t, fs.FileExists("p1", "doc.json"))

	require.NoError(t, fs.SaveJSONFile("p1", "doc.json", testDoc{}))

	assert.True(t, fs.DirExists("p1"))
	assert.True(t, fs.FileExists("p1", "doc.json"))
}

func TestDeleteDir(t *testing.T) {
	fs := newTestStorage(t)

	require.NoError(t, fs.SaveJSONFile(filepath.Join("productions", "p1"), "doc.json", testDoc{Name: "v1"}))
	require.NoError(t, fs.DeleteDir(filepath.Join("productions", "p1")))

	assert.False(t, fs.DirExists(filepath.Join("productions", "p1")))

	// 缓存一并失效
	var doc testDoc
	err := fs.LoadJSONFile(filepath.Join("productions", "p1"), "doc.json", &doc)
	require.Error(t, err)

	// 删除不存在的目录报错
	err = fs.DeleteDir(filepath.Join("productions", "p1"))
	require.Error(t, err)
}

func TestListDirs(t *testing.T) {
	fs := newTestStorage(t)

	require.NoError(t, fs.SaveJSONFile("productions/a", "doc.json", testDoc{}))
	require.NoError(t, fs.SaveJSONFile("productions/b", "doc.json", testDoc{}))

	dirs, err := fs.ListDirs("productions")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, dirs)
}
