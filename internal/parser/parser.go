package parser

import (
	"archive/zip"
	"bytes"
	"fmt"
	"html"
	"io"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/m-mizutani/goerr/v2"
	"github.com/nguyenthenguyen/docx"
	"github.com/tealeg/xlsx"
	"github.com/xuri/excelize/v2"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"

	"studyscope/internal/models"
)

const pdfMagic = "%PDF"

var slideRe = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)

// ExtractText returns the plain text of a document. The format is chosen from the
// file name extension; an empty name or PDF magic bytes select the PDF extractor.
func ExtractText(fileName string, data []byte) (string, error) {
	ext := strings.ToLower(filepath.Ext(fileName))
	if ext == "" || bytes.HasPrefix(data, []byte(pdfMagic)) {
		ext = ".pdf"
	}

	switch ext {
	case ".pdf":
		return parsePDF(data)
	case ".docx":
		return parseDOCX(data)
	case ".pptx":
		return parsePPTX(data)
	case ".xlsx":
		return parseXLSX(data)
	case ".xlsm", ".xltx", ".xltm":
		return parseExcelize(data)
	case ".md", ".markdown":
		return parseMarkdown(data)
	case ".txt":
		return string(data), nil
	default:
		return "", goerr.Wrap(models.ErrUnsupportedFormat, "cannot extract text", goerr.V("extension", ext))
	}
}

func parsePDF(data []byte) (out string, err error) {
	// ledongthuc/pdf panics on some malformed inputs
	defer func() {
		if r := recover(); r != nil {
			err = goerr.New("malformed PDF", goerr.V("panic", fmt.Sprint(r)))
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", goerr.Wrap(err, "failed to open PDF")
	}

	var sb strings.Builder
	numPages := reader.NumPage()
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			return "", goerr.Wrap(err, "failed to read PDF page", goerr.V("page", i))
		}
		sb.WriteString(pageText)
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

func parseDOCX(data []byte) (string, error) {
	r, err := docx.ReadDocxFromMemory(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", goerr.Wrap(err, "failed to open DOCX")
	}
	defer r.Close()

	// GetContent returns document.xml; keep the text runs only
	return extractTextFromXML(r.Editable().GetContent(), "w:t"), nil
}

func parsePPTX(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", goerr.Wrap(err, "failed to open PPTX")
	}

	type slide struct {
		num  int
		file *zip.File
	}
	var slides []slide
	for _, file := range zr.File {
		m := slideRe.FindStringSubmatch(file.Name)
		if m == nil {
			continue
		}
		num, _ := strconv.Atoi(m[1])
		slides = append(slides, slide{num: num, file: file})
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].num < slides[j].num })

	var sb strings.Builder
	for _, s := range slides {
		rc, err := s.file.Open()
		if err != nil {
			return "", goerr.Wrap(err, "failed to open slide", goerr.V("slide", s.num))
		}
		xmlData, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return "", goerr.Wrap(err, "failed to read slide", goerr.V("slide", s.num))
		}
		sb.WriteString(extractTextFromXML(string(xmlData), "a:t"))
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

func parseXLSX(data []byte) (string, error) {
	f, err := xlsx.OpenBinary(data)
	if err != nil {
		return "", goerr.Wrap(err, "failed to open XLSX")
	}

	var sb strings.Builder
	for _, sheet := range f.Sheets {
		sb.WriteString(sheet.Name + "\n")
		for _, row := range sheet.Rows {
			for _, cell := range row.Cells {
				sb.WriteString(cell.String() + "\t")
			}
			sb.WriteString("\n")
		}
	}
	return sb.String(), nil
}

func parseExcelize(data []byte) (string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return "", goerr.Wrap(err, "failed to open workbook")
	}
	defer f.Close()

	var sb strings.Builder
	for _, sheetName := range f.GetSheetList() {
		rows, err := f.GetRows(sheetName)
		if err != nil {
			return "", goerr.Wrap(err, "failed to read sheet", goerr.V("sheet", sheetName))
		}
		sb.WriteString(sheetName + "\n")
		for _, row := range rows {
			sb.WriteString(strings.Join(row, "\t"))
			sb.WriteString("\n")
		}
	}
	return sb.String(), nil
}

// parseMarkdown walks the markdown AST and keeps only the text, so headings,
// emphasis and tables collapse to plain words.
func parseMarkdown(data []byte) (string, error) {
	md := goldmark.New(goldmark.WithExtensions(extension.GFM))
	doc := md.Parser().Parse(text.NewReader(data))

	var buf bytes.Buffer
	err := ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			if n.Type() == ast.TypeBlock {
				buf.WriteByte('\n')
			}
			return ast.WalkContinue, nil
		}

		switch node := n.(type) {
		case *ast.Text:
			buf.Write(node.Segment.Value(data))
			if node.SoftLineBreak() || node.HardLineBreak() {
				buf.WriteByte(' ')
			}
		case *ast.String:
			buf.Write(node.Value)
		case *ast.AutoLink:
			buf.Write(node.Label(data))
		case *ast.CodeBlock, *ast.FencedCodeBlock:
			lines := n.Lines()
			for i := 0; i < lines.Len(); i++ {
				seg := lines.At(i)
				buf.Write(seg.Value(data))
			}
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return "", goerr.Wrap(err, "failed to walk markdown")
	}
	return buf.String(), nil
}

func extractTextFromXML(xmlContent, tag string) string {
	open := "<" + tag
	closeTag := "</" + tag + ">"

	var sb strings.Builder
	parts := strings.Split(xmlContent, open)
	for i, part := range parts {
		if i == 0 {
			continue
		}
		// skip longer tag names sharing the prefix, e.g. <w:tbl> for <w:t
		if len(part) == 0 || (part[0] != '>' && part[0] != ' ') {
			continue
		}
		start := strings.Index(part, ">")
		end := strings.Index(part, closeTag)
		if start >= 0 && end > start {
			sb.WriteString(html.UnescapeString(part[start+1:end]) + " ")
		}
	}
	return sb.String()
}
