package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/stemsi/ujian/internal/examsession"
)

type commandKind int

const (
	cmdUnknown commandKind = iota
	cmdSelect
	cmdNext
	cmdPrev
	cmdGoto
	cmdList
	cmdSubmit
	cmdQuit
	cmdHelp
)

type command struct {
	kind   commandKind
	option int // cmdSelect: zero-based option index
	number int // cmdGoto: one-based question number
}

// parseCommand reads one line of input. A single letter picks an option,
// digits jump to a question.
func parseCommand(line string) command {
	line = strings.ToLower(strings.TrimSpace(line))
	switch line {
	case "", "n", "next":
		return command{kind: cmdNext}
	case "p", "prev":
		return command{kind: cmdPrev}
	case "l", "list":
		return command{kind: cmdList}
	case "kirim", "submit":
		return command{kind: cmdSubmit}
	case "q", "quit", "keluar":
		return command{kind: cmdQuit}
	case "?", "h", "help":
		return command{kind: cmdHelp}
	}

	if len(line) == 1 && line[0] >= 'a' && line[0] <= 'g' {
		return command{kind: cmdSelect, option: int(line[0] - 'a')}
	}
	if n, err := strconv.Atoi(strings.TrimPrefix(line, "g")); err == nil && n > 0 {
		return command{kind: cmdGoto, number: n}
	}
	return command{kind: cmdUnknown}
}

// formatRemaining renders a countdown as HH:MM:SS (or MM:SS under an hour).
func formatRemaining(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d.Round(time.Second) / time.Second)
	h, m, s := total/3600, (total%3600)/60, total%60
	if h > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}

// warnAt are the remaining-time marks announced while the participant works.
var warnAt = []time.Duration{10 * time.Minute, 5 * time.Minute, time.Minute, 10 * time.Second}

// countdown turns timer ticks into one-shot warnings.
type countdown struct {
	next int
}

// crossed returns the mark just passed by remaining, if any.
func (c *countdown) crossed(remaining time.Duration) (time.Duration, bool) {
	var mark time.Duration
	hit := false
	for c.next < len(warnAt) && remaining <= warnAt[c.next] {
		mark = warnAt[c.next]
		hit = true
		c.next++
	}
	return mark, hit
}

func optionLabel(i int) string {
	return string(rune('A' + i))
}

func renderQuestion(w io.Writer, q examsession.Question, pos, total int, remaining time.Duration) {
	fmt.Fprintf(w, "\n── Soal %d/%d ─────────────────────── sisa waktu %s\n", pos+1, total, formatRemaining(remaining))
	fmt.Fprintln(w, q.Prompt)
	switch q.MediaKind {
	case examsession.MediaImage:
		fmt.Fprintf(w, "[gambar] %s\n", q.MediaURL)
	case examsession.MediaVideo:
		fmt.Fprintf(w, "[video] %s\n", q.MediaURL)
	}
	for i, o := range q.Options {
		mark := " "
		if q.SelectedOptionID != nil && *q.SelectedOptionID == o.ID {
			mark = "x"
		}
		fmt.Fprintf(w, "  [%s] %s. %s\n", mark, optionLabel(i), o.Text)
	}
}

func renderList(w io.Writer, questions []examsession.Question, current int) {
	for i, q := range questions {
		cursor := " "
		if i == current {
			cursor = ">"
		}
		answer := "-"
		if q.SelectedOptionID != nil {
			for j, o := range q.Options {
				if o.ID == *q.SelectedOptionID {
					answer = optionLabel(j)
				}
			}
		}
		fmt.Fprintf(w, "%s %2d. %s\n", cursor, i+1, answer)
	}
}

func renderHelp(w io.Writer) {
	fmt.Fprintln(w, "Perintah: a-g pilih jawaban | n berikutnya | p sebelumnya | <nomor> lompat ke soal")
	fmt.Fprintln(w, "          l daftar jawaban | kirim selesai ujian | q keluar (ujian dapat dilanjutkan)")
}

func renderResult(w io.Writer, res examsession.Result) {
	fmt.Fprintf(w, "\nUjian selesai. Nilai: %.2f\n", res.Score)
	if res.RetryAllowed {
		fmt.Fprintln(w, "Anda diperbolehkan mengulang ujian ini.")
	}
}
