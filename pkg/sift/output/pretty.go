package output

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/jamesainslie/sift/pkg/sift/types"
)

// PrettyFormatter renders a styled summary for terminals.
type PrettyFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *PrettyFormatter) Format(w *bytes.Buffer, r *Result) error {
	w.WriteString(f.formatHeader(r))
	w.WriteString("\n")
	w.WriteString(f.formatTable(r))
	w.WriteString(f.formatFooter(r))

	if r.Summary != nil && len(r.Summary.Warnings) > 0 {
		w.WriteString("\n")
		w.WriteString(f.formatWarnings(r.Summary.Warnings))
	}
	return nil
}

func (f *PrettyFormatter) formatHeader(r *Result) string {
	var lines []string

	if r.Source != "" {
		lines = append(lines, LabelStyle.Render("Source:")+" "+ValueStyle.Render(r.Source))
	}

	if s := r.Summary; s != nil {
		info := LabelStyle.Render("Scan:") + " " + ValueStyle.Render(s.ID)
		if !s.StartedAt.IsZero() {
			info += "  " + LabelStyle.Render("Started:") + " " + MutedStyle.Render(humanize.Time(s.StartedAt))
		}
		info += "  " + LabelStyle.Render("Took:") + " " + ValueStyle.Render(formatDuration(s.Elapsed.Seconds()))
		lines = append(lines, info)
	}

	if v := r.Volume; v != nil {
		lines = append(lines, fmt.Sprintf("%s %s",
			LabelStyle.Render("Volume:"),
			ValueStyle.Render(fmt.Sprintf("%s free of %s (%.0f%% used)",
				humanize.IBytes(v.Available), humanize.IBytes(v.Total), v.UsedPercent()))))
	}

	if r.Summary != nil && r.Summary.Cancelled {
		lines = append(lines, WarningStyle.Bold(true).Render("Scan cancelled, results are partial"))
	}

	if len(lines) == 0 {
		lines = append(lines, MutedStyle.Render("No scan information"))
	}
	return HeaderBox.Render(strings.Join(lines, "\n"))
}

func (f *PrettyFormatter) formatTable(r *Result) string {
	cats := r.Categories()
	if len(cats) == 0 {
		return MutedStyle.Render("  No categories scanned") + "\n"
	}

	nameWidth, countWidth, sizeWidth := len("CATEGORY"), len("FILES"), len("SIZE")
	for _, res := range cats {
		nameWidth = max(nameWidth, len(res.Category.String()))
		countWidth = max(countWidth, len(humanize.Comma(int64(res.Count))))
		sizeWidth = max(sizeWidth, len(types.FormatSize(res.TotalSize)))
	}

	var sb strings.Builder
	sb.WriteString("  " + TableHeaderStyle.Render(padRight("CATEGORY", nameWidth)) + "  " +
		TableHeaderStyle.Render(padLeft("FILES", countWidth)) + "  " +
		TableHeaderStyle.Render(padLeft("SIZE", sizeWidth)) + "\n")

	for _, res := range cats {
		count := padLeft(humanize.Comma(int64(res.Count)), countWidth)
		size := padLeft(types.FormatSize(res.TotalSize), sizeWidth)
		countStyle := ValueStyle
		if res.Count == 0 {
			countStyle = MutedStyle
		}
		sb.WriteString("  " + CategoryStyle.Render(padRight(res.Category.String(), nameWidth)) + "  " +
			countStyle.Render(count) + "  " + SizeStyle.Render(size) + "\n")

		if r.Files {
			for _, rec := range res.Records {
				sb.WriteString("      " + SizeStyle.Render(padLeft(types.FormatSize(rec.Size), 9)) +
					"  " + PathStyle.Render(rec.Path) + "\n")
			}
		}
	}
	return sb.String()
}

func (f *PrettyFormatter) formatFooter(r *Result) string {
	var files int
	var size int64
	if r.Summary != nil {
		files, size = r.Summary.TotalFiles, r.Summary.TotalSize
	}

	parts := []string{
		LabelStyle.Render("Files:") + " " + ValueStyle.Render(humanize.Comma(int64(files))),
		LabelStyle.Render("Total:") + " " + SizeStyle.Render(types.FormatSize(size)),
		MutedStyle.Render("Use -o plain for unformatted output"),
	}
	return FooterBox.Render(strings.Join(parts, "  "))
}

func (f *PrettyFormatter) formatWarnings(warnings []string) string {
	var sb strings.Builder
	sb.WriteString(WarningStyle.Bold(true).Render("Warnings:"))
	sb.WriteString("\n")
	for _, w := range warnings {
		sb.WriteString(WarningStyle.Render("  " + w))
		sb.WriteString("\n")
	}
	return sb.String()
}

func padLeft(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return strings.Repeat(" ", width-len(s)) + s
}

func padRight(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}

// formatDuration renders seconds compactly: 350ms, 4.2s, 3m 5s, 1h 2m.
func formatDuration(sec float64) string {
	if sec < 1 {
		return fmt.Sprintf("%.0fms", sec*1000)
	}
	if sec < 60 {
		return fmt.Sprintf("%.1fs", sec)
	}
	minutes := int(sec) / 60
	if minutes < 60 {
		return fmt.Sprintf("%dm %ds", minutes, int(sec)%60)
	}
	return fmt.Sprintf("%dh %dm", minutes/60, minutes%60)
}

func init() {
	Register("pretty", func() Formatter {
		return &PrettyFormatter{}
	})
}

var _ Formatter = (*PrettyFormatter)(nil)
