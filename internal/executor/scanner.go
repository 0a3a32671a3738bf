package executor

import (
	"browser-automation/internal/entity"
	"browser-automation/internal/ports"
)

type ScannedDocument struct {
	Ref entity.DocumentRef
	Doc ports.Document
}

// DocumentsOf lists the main document first, then every embedded frame in
// the order the page reports them.
func DocumentsOf(page ports.Page) []ScannedDocument {
	main := page.MainDocument()
	frames := page.Frames()

	out := make([]ScannedDocument, 0, len(frames)+1)
	out = append(out, ScannedDocument{
		Ref: entity.DocumentRef{Index: 0, Main: true, Name: main.Name(), URL: main.URL()},
		Doc: main,
	})

	for _, f := range frames {
		if f.IsMain() {
			continue
		}

		out = append(out, ScannedDocument{
			Ref: entity.DocumentRef{Index: len(out), Name: f.Name(), URL: f.URL()},
			Doc: f,
		})
	}

	return out
}
