package server

import (
	"io/fs"
	"net/http"
	"path"
	"strings"

	"github.com/gin-gonic/gin"
)

const indexFile = "index.html"

var contentTypes = map[string]string{
	".html": "text/html; charset=utf-8",
	".htm":  "text/html; charset=utf-8",
	".js":   "application/javascript",
	".css":  "text/css",
	".json": "application/json",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
}

// ContentType maps a resource name to its MIME type.
func ContentType(name string) string {
	if ct, ok := contentTypes[strings.ToLower(path.Ext(name))]; ok {
		return ct
	}
	return "application/octet-stream"
}

// resourceKey turns a request path into an asset name.
func resourceKey(urlPath string) string {
	key := strings.TrimPrefix(path.Clean("/"+urlPath), "/")
	if key == "" {
		return indexFile
	}
	return key
}

// staticAssets serves embedded resources, falling back to the index
// document for anything that does not resolve.
func staticAssets(assets fs.FS) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := resourceKey(c.Request.URL.Path)
		data, err := readAsset(assets, key)
		if err != nil {
			key = indexFile
			data, err = readAsset(assets, key)
		}
		if err != nil {
			c.String(http.StatusNotFound, "Not found")
			return
		}
		c.Data(http.StatusOK, ContentType(key), data)
	}
}

func readAsset(assets fs.FS, key string) ([]byte, error) {
	if assets == nil {
		return nil, fs.ErrNotExist
	}
	info, err := fs.Stat(assets, key)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fs.ErrNotExist
	}
	return fs.ReadFile(assets, key)
}
