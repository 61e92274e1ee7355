package ui

import (
	"strings"
	"unicode/utf8"
)

// Tree hierarchy symbols using box drawing characters
const (
	TreeBranch     = "├── "
	TreeLastBranch = "└── "
	TreeVertical   = "│"

	TreeContinue = "│   " // parent has more siblings
	TreeIndent   = "    " // parent was last

	BoxTopLeft     = "┌"
	BoxTopRight    = "┐"
	BoxBottomLeft  = "└"
	BoxBottomRight = "┘"
	BoxVertical    = "│"
	BoxHorizontal  = "─"
	BoxTeeRight    = "├"
	BoxTeeLeft     = "┤"
)

// BuildTreePrefix generates a tree prefix from the depth, the position among
// siblings and whether each ancestor was the last of its siblings.
func BuildTreePrefix(depth int, isLast bool, parentIsLast []bool) string {
	if depth == 0 {
		return ""
	}

	var b strings.Builder
	for i := 0; i < depth-1; i++ {
		if i < len(parentIsLast) && parentIsLast[i] {
			b.WriteString(TreeIndent)
		} else {
			b.WriteString(TreeContinue)
		}
	}
	if isLast {
		b.WriteString(TreeLastBranch)
	} else {
		b.WriteString(TreeBranch)
	}
	return b.String()
}

// BuildBoxHeader creates a box header with the given title and width
func BuildBoxHeader(title string, width int) string {
	titleLen := utf8.RuneCountInString(title)
	if width < titleLen+4 {
		width = titleLen + 4
	}
	padding := width - 4 - titleLen

	header := BoxTopLeft + repeatString(BoxHorizontal, width-2) + BoxTopRight + "\n"
	header += BoxVertical + " " + title + repeatString(" ", padding+1) + BoxVertical + "\n"
	header += BoxTeeRight + repeatString(BoxHorizontal, width-2) + BoxTeeLeft + "\n"
	return header
}

// BuildBoxFooter creates a box footer with the given width
func BuildBoxFooter(width int) string {
	return BoxBottomLeft + repeatString(BoxHorizontal, width-2) + BoxBottomRight + "\n"
}

// BuildBoxLine creates a content line within a box. Long content is
// truncated by runes so multi-byte titles never split.
func BuildBoxLine(content string, width int) string {
	contentLen := utf8.RuneCountInString(content)
	maxContentLen := width - 4

	if contentLen > maxContentLen {
		runes := []rune(content)
		content = string(runes[:maxContentLen-3]) + "..."
		contentLen = maxContentLen
	}

	padding := maxContentLen - contentLen
	return BoxVertical + " " + content + repeatString(" ", padding+1) + BoxVertical + "\n"
}

func repeatString(s string, n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat(s, n)
}
