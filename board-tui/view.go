package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"slotboard/board"
	"slotboard/domain"
)

type styles struct {
	Title    lipgloss.Style
	Card     lipgloss.Style
	Empty    lipgloss.Style
	Cursor   lipgloss.Color
	DragOver lipgloss.Color
	Marker   lipgloss.Color
	Faint    lipgloss.Style
	Success  lipgloss.Style
	Error    lipgloss.Style
	Picker   lipgloss.Style
	Selected lipgloss.Style
	RAG      map[domain.RAG]lipgloss.Style
}

func defaultStyles() styles {
	return styles{
		Title:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212")),
		Card:     lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240")),
		Empty:    lipgloss.NewStyle().Border(lipgloss.NormalBorder()).BorderForeground(lipgloss.Color("237")).Foreground(lipgloss.Color("241")),
		Cursor:   lipgloss.Color("63"),
		DragOver: lipgloss.Color("39"),
		Marker:   lipgloss.Color("214"),
		Faint:    lipgloss.NewStyle().Faint(true),
		Success:  lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		Error:    lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		Picker:   lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("63")).Padding(0, 1),
		Selected: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212")),
		RAG: map[domain.RAG]lipgloss.Style{
			domain.RAGRed:   lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
			domain.RAGAmber: lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
			domain.RAGGreen: lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		},
	}
}

func (m *model) View() string {
	var sb strings.Builder
	sb.WriteString(m.header())
	sb.WriteString("\n\n")
	sb.WriteString(m.grid())
	sb.WriteString("\n")
	sb.WriteString(m.pool())
	if m.picker != nil && m.picker.IsOpen() {
		sb.WriteString("\n")
		sb.WriteString(m.pickerView())
	}
	if m.detail != nil {
		sb.WriteString("\n")
		sb.WriteString(m.detailView(*m.detail))
	}
	sb.WriteString("\n")
	sb.WriteString(m.statusLine())
	return sb.String()
}

func (m *model) header() string {
	title := m.styles.Title.Render("Slot Board")
	f := m.board.Filters()
	if !f.Active() {
		return title
	}
	parts := []string{}
	if len(f.TeamIDs) > 0 {
		parts = append(parts, "teams="+strings.Join(f.TeamIDs, ","))
	}
	if len(f.PersonIDs) > 0 {
		parts = append(parts, "people="+strings.Join(f.PersonIDs, ","))
	}
	return title + m.styles.Faint.Render("  filtered: "+strings.Join(parts, " ")+" (drag disabled, c to clear)")
}

func (m *model) grid() string {
	cards := m.board.Cards()
	rows := make([]string, 0, m.layout.rows(len(cards)))
	for start := 0; start < len(cards); start += m.layout.cols {
		end := min(start+m.layout.cols, len(cards))
		cells := make([]string, 0, end-start)
		for _, c := range cards[start:end] {
			cells = append(cells, m.renderCard(c.View()))
		}
		rows = append(rows, lipgloss.JoinHorizontal(lipgloss.Top, cells...))
	}
	return lipgloss.JoinVertical(lipgloss.Left, rows...)
}

func (m *model) renderCard(v board.CardView) string {
	innerW := m.layout.cellW - 2
	innerH := m.layout.cellH - 2

	style := m.styles.Card
	if v.Empty() {
		style = m.styles.Empty
	}
	style = style.Width(innerW).Height(innerH)
	if v.Slot == m.cursor {
		style = style.BorderForeground(m.styles.Cursor)
	}
	if v.DragOver {
		style = style.BorderForeground(m.styles.DragOver)
	}
	if v.Marker != nil {
		switch v.Marker.Edge {
		case board.DirectionLeft:
			style = style.BorderLeftForeground(m.styles.Marker)
		case board.DirectionRight:
			style = style.BorderRightForeground(m.styles.Marker)
		case board.DirectionTop:
			style = style.BorderTopForeground(m.styles.Marker)
		case board.DirectionBottom:
			style = style.BorderBottomForeground(m.styles.Marker)
		}
	}
	if v.Dimmed || v.Dragging {
		style = style.Faint(true)
	}
	return style.Render(strings.Join(m.cardLines(v, innerW, innerH), "\n"))
}

// cardLines fits the card content into width x height cells. A progress
// label replaces the last line when the card is full.
func (m *model) cardLines(v board.CardView, width, height int) []string {
	label := fmt.Sprintf("#%d", v.Slot)
	if v.Empty() {
		hint := "empty"
		if v.Droppable {
			hint = "+ assign"
		}
		return []string{label, hint}
	}
	in := *v.Initiative
	lines := []string{label + " " + truncate(in.Title, width-len(label)-1)}
	meta := string(in.Status)
	if rag, ok := m.styles.RAG[in.RAG]; ok {
		meta = rag.Render("●") + " " + meta
	}
	lines = append(lines, meta)
	if in.Team != nil {
		lines = append(lines, truncate(in.Team.Name, width))
	}
	progress := ""
	switch {
	case v.Removing:
		progress = "removing…"
	case v.Dragging:
		progress = "moving"
	}
	if progress == "" {
		return lines[:min(len(lines), max(height, 1))]
	}
	return append(lines[:min(len(lines), max(height-1, 0))], progress)
}

func (m *model) pool() string {
	pool := m.board.Pool()
	if len(pool) == 0 {
		return m.styles.Faint.Render("Pool: empty")
	}
	titles := make([]string, 0, len(pool))
	for _, in := range pool {
		titles = append(titles, in.Title)
	}
	return m.styles.Faint.Render("Pool: " + strings.Join(titles, ", "))
}

func (m *model) pickerView() string {
	options := m.picker.Options()
	lines := []string{fmt.Sprintf("Assign to slot %d", m.picker.Slot())}
	if len(options) == 0 {
		lines = append(lines, m.styles.Faint.Render("no unassigned initiatives"))
	}
	for i, in := range options {
		line := "  " + in.Title
		if i == m.pickerIdx {
			line = m.styles.Selected.Render("> " + in.Title)
		}
		lines = append(lines, line)
	}
	return m.styles.Picker.Render(strings.Join(lines, "\n"))
}

func (m *model) detailView(in domain.Initiative) string {
	lines := []string{m.styles.Title.Render(in.Title), "status: " + string(in.Status), "rag: " + string(in.RAG)}
	if in.Team != nil {
		lines = append(lines, "team: "+in.Team.Name)
	}
	if len(in.Owners) > 0 {
		names := make([]string, 0, len(in.Owners))
		for _, o := range in.Owners {
			names = append(names, o.Person.Name)
		}
		lines = append(lines, "owners: "+strings.Join(names, ", "))
	}
	return m.styles.Picker.Render(strings.Join(lines, "\n"))
}

func (m *model) statusLine() string {
	help := m.styles.Faint.Render("drag to move/swap · enter assign/details · x remove · r refresh · q quit")
	if m.pending > 0 {
		help = m.styles.Faint.Render("saving… ") + help
	}
	if m.status == nil {
		return help
	}
	style := m.styles.Success
	if m.status.Kind == board.NoticeError {
		style = m.styles.Error
	}
	return style.Render(m.status.Title+": "+m.status.Message) + "\n" + help
}

func truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 {
		return ""
	}
	if len(r) <= n {
		return s
	}
	if n == 1 {
		return "…"
	}
	return string(r[:n-1]) + "…"
}
