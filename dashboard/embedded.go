package dashboard

import (
	"embed"
	"io/fs"
)

//go:embed templates/*.html static/*
var embeddedFiles embed.FS

// StaticFS returns the dashboard assets rooted at static/.
func StaticFS() fs.FS {
	sub, err := fs.Sub(embeddedFiles, "static")
	if err != nil {
		// The embed pattern above guarantees the directory exists.
		panic(err)
	}
	return sub
}
