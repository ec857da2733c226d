package handlers

import (
	_ "embed"
	"html/template"
)

const pageName = "index.html"

//go:embed templates/index.html
var pageHTML string

var pageTemplate = template.Must(template.New(pageName).Parse(pageHTML))

// pageData feeds the single page; Output fills the read-only result box.
type pageData struct {
	Output    string
	RequestID string
}
