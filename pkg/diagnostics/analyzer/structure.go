package analyzer

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// StructureAnalysis summarizes the document tree. Accessibility and modal
// fields are only populated when the corresponding features are enabled.
type StructureAnalysis struct {
	Title        string `yaml:"title"`
	ElementCount int    `yaml:"elementCount"`
	MaxDepth     int    `yaml:"maxDepth"`
	Headings     int    `yaml:"headings"`
	Links        int    `yaml:"links"`
	Forms        int    `yaml:"forms"`
	Inputs       int    `yaml:"inputs"`
	Images       int    `yaml:"images"`
	Iframes      int    `yaml:"iframes"`

	// Landmarks lists the semantic landmark tags present in the page
	// (header, nav, main, aside, footer), each at most once.
	Landmarks []string `yaml:"landmarks,omitempty"`

	// Modal census (modalDetection feature).
	OpenDialogs  int `yaml:"openDialogs"`
	ModalMarkers int `yaml:"modalMarkers"`

	// Accessibility sampling (accessibilityAnalysis feature).
	ImagesMissingAlt   int `yaml:"imagesMissingAlt"`
	InputsMissingLabel int `yaml:"inputsMissingLabel"`

	// Frame census (iframeDetection feature), gathered from the driver
	// rather than the serialized HTML.
	FrameCount    int            `yaml:"frameCount"`
	DetachedCount int            `yaml:"detachedFrameCount"`
	FrameElements map[string]int `yaml:"frameElements,omitempty"`
}

// structureOptions selects which census passes run during the walk.
type structureOptions struct {
	modalDetection        bool
	accessibilityAnalysis bool
}

// analyzeStructure parses serialized HTML and walks the tree once,
// collecting every enabled census in the same pass.
func analyzeStructure(rawHTML string, opts structureOptions) (*StructureAnalysis, error) {
	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	analysis := &StructureAnalysis{}
	landmarks := make(map[string]bool)
	labeledInputs := collectLabeledInputs(doc)
	walkStructure(doc, 0, analysis, landmarks, labeledInputs, opts)

	for _, tag := range []string{"header", "nav", "main", "aside", "footer"} {
		if landmarks[tag] {
			analysis.Landmarks = append(analysis.Landmarks, tag)
		}
	}
	return analysis, nil
}

// walkStructure visits every node, tallying the censuses. Depth counts
// element nesting from the document root.
func walkStructure(n *html.Node, depth int, a *StructureAnalysis, landmarks map[string]bool, labeledInputs map[string]bool, opts structureOptions) {
	if n.Type == html.ElementNode {
		tag := strings.ToLower(n.Data)
		a.ElementCount++
		if depth > a.MaxDepth {
			a.MaxDepth = depth
		}

		switch tag {
		case "title":
			if a.Title == "" {
				a.Title = textContent(n)
			}
		case "h1", "h2", "h3", "h4", "h5", "h6":
			a.Headings++
		case "a":
			if attrValue(n, "href") != "" {
				a.Links++
			}
		case "form":
			a.Forms++
		case "input", "select", "textarea":
			a.Inputs++
			if opts.accessibilityAnalysis && !inputHasLabel(n, labeledInputs) {
				a.InputsMissingLabel++
			}
		case "img":
			a.Images++
			if opts.accessibilityAnalysis && !hasAttr(n, "alt") {
				a.ImagesMissingAlt++
			}
		case "iframe", "frame":
			a.Iframes++
		case "header", "nav", "main", "aside", "footer":
			landmarks[tag] = true
		case "dialog":
			if opts.modalDetection {
				if hasAttr(n, "open") {
					a.OpenDialogs++
				}
				a.ModalMarkers++
			}
		}

		if opts.modalDetection && tag != "dialog" && isModalMarker(n) {
			a.ModalMarkers++
		}

		depth++
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walkStructure(c, depth, a, landmarks, labeledInputs, opts)
	}
}

// collectLabeledInputs gathers the ids referenced by <label for="..."> so
// the accessibility pass can tell labeled inputs from bare ones.
func collectLabeledInputs(doc *html.Node) map[string]bool {
	labeled := make(map[string]bool)
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && strings.EqualFold(n.Data, "label") {
			if target := attrValue(n, "for"); target != "" {
				labeled[target] = true
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return labeled
}

// inputHasLabel reports whether an input is labeled by id reference,
// aria-label, aria-labelledby, or an enclosing <label>.
func inputHasLabel(n *html.Node, labeledInputs map[string]bool) bool {
	if attrValue(n, "type") == "hidden" {
		return true
	}
	if id := attrValue(n, "id"); id != "" && labeledInputs[id] {
		return true
	}
	if hasAttr(n, "aria-label") || hasAttr(n, "aria-labelledby") {
		return true
	}
	for p := n.Parent; p != nil; p = p.Parent {
		if p.Type == html.ElementNode && strings.EqualFold(p.Data, "label") {
			return true
		}
	}
	return false
}

// isModalMarker recognizes non-dialog modal patterns: role="dialog",
// role="alertdialog", or aria-modal="true".
func isModalMarker(n *html.Node) bool {
	role := attrValue(n, "role")
	if role == "dialog" || role == "alertdialog" {
		return true
	}
	return attrValue(n, "aria-modal") == "true"
}

func attrValue(n *html.Node, name string) string {
	for _, attr := range n.Attr {
		if strings.EqualFold(attr.Key, name) {
			return attr.Val
		}
	}
	return ""
}

func hasAttr(n *html.Node, name string) bool {
	for _, attr := range n.Attr {
		if strings.EqualFold(attr.Key, name) {
			return true
		}
	}
	return false
}

// textContent concatenates the text nodes beneath n, trimmed.
func textContent(n *html.Node) string {
	var sb strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.TrimSpace(sb.String())
}
