// Package report renders a snapshot of the moderation queue as HTML or plain
// text for sharing outside the terminal.
package report

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/ibeckermayer/modsync/internal/share"
	"github.com/ibeckermayer/modsync/internal/types"
)

// DefaultMaxPosts caps the rows in one report
const DefaultMaxPosts = 100

// Builder renders reports
type Builder struct {
	maxPosts int
	template *template.Template
	now      func() time.Time
}

// New creates a builder. maxPosts <= 0 means DefaultMaxPosts.
func New(maxPosts int) (*Builder, error) {
	tmpl, err := template.New("report").Parse(htmlTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template: %w", err)
	}
	if maxPosts <= 0 {
		maxPosts = DefaultMaxPosts
	}
	return &Builder{maxPosts: maxPosts, template: tmpl, now: time.Now}, nil
}

// Input is what goes into a report. Posts are rendered in the order given.
type Input struct {
	Title  string
	Server string
	Posts  []types.Post
	Stats  *types.Stats
}

// Report is a rendered report
type Report struct {
	Title     string
	HTML      string
	Plain     string
	PostIDs   []int64
	Omitted   int
	CreatedAt time.Time
}

type row struct {
	ID       int64
	Status   types.Status
	Channel  string
	Text     string
	Quality  string
	Priority int
	Age      string
	Media    types.MediaKind
	Link     string
}

type page struct {
	Title   string
	Server  string
	Date    string
	Rows    []row
	Omitted int
	Stats   *types.Stats
}

// Build renders in. An empty queue still produces a report.
func (b *Builder) Build(in Input) (*Report, error) {
	now := b.now()
	posts := in.Posts
	omitted := 0
	if len(posts) > b.maxPosts {
		omitted = len(posts) - b.maxPosts
		posts = posts[:b.maxPosts]
	}

	title := strings.TrimSpace(in.Title)
	if title == "" {
		title = "Moderation queue"
	}
	p := page{
		Title:   title,
		Server:  in.Server,
		Date:    now.Format("Monday, January 2 2006 15:04"),
		Rows:    make([]row, len(posts)),
		Omitted: omitted,
		Stats:   in.Stats,
	}
	ids := make([]int64, len(posts))
	for i, post := range posts {
		p.Rows[i] = toRow(post, now)
		ids[i] = post.ID
	}

	var buf bytes.Buffer
	if err := b.template.Execute(&buf, p); err != nil {
		return nil, fmt.Errorf("failed to render template: %w", err)
	}
	return &Report{
		Title:     title,
		HTML:      buf.String(),
		Plain:     plainText(p),
		PostIDs:   ids,
		Omitted:   omitted,
		CreatedAt: now,
	}, nil
}

func toRow(p types.Post, now time.Time) row {
	r := row{
		ID:       p.ID,
		Status:   p.Status,
		Channel:  p.ChannelName,
		Text:     clip(share.Text(p), 280),
		Quality:  "-",
		Priority: p.Priority,
		Age:      "-",
		Media:    p.Media().Kind,
		Link:     p.TwitterURL,
	}
	if r.Link == "" {
		r.Link = p.TelegramURL
	}
	if p.QualityScore != nil {
		r.Quality = fmt.Sprintf("%.2f", *p.QualityScore)
	}
	if !p.CreatedAt.IsZero() {
		r.Age = humanize.RelTime(p.CreatedAt.Time, now, "ago", "from now")
	}
	return r
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func plainText(p page) string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s\n%s\n", p.Title, p.Date)
	if p.Server != "" {
		fmt.Fprintf(&buf, "%s\n", p.Server)
	}
	if s := p.Stats; s != nil {
		fmt.Fprintf(&buf, "\n%s total, %s pending, %s posted (%.1f%%), %s deleted (%.1f%%), %s archived\n",
			humanize.Comma(int64(s.TotalPosts)), humanize.Comma(int64(s.PendingPosts)),
			humanize.Comma(int64(s.PostedCount)), s.PostRate,
			humanize.Comma(int64(s.DeletedCount)), s.DeleteRate,
			humanize.Comma(int64(s.ArchivedCount)))
	}
	buf.WriteString("\n")
	if len(p.Rows) == 0 {
		buf.WriteString("Nothing to review.\n")
	}
	for i, r := range p.Rows {
		fmt.Fprintf(&buf, "%d. #%d [%s] %s, quality %s, %s\n", i+1, r.ID, r.Status, r.Channel, r.Quality, r.Age)
		fmt.Fprintf(&buf, "   %s\n", strings.Join(strings.Fields(r.Text), " "))
		if r.Link != "" {
			fmt.Fprintf(&buf, "   %s\n", r.Link)
		}
	}
	if p.Omitted > 0 {
		fmt.Fprintf(&buf, "\n%d more not shown\n", p.Omitted)
	}
	return buf.String()
}

const htmlTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="utf-8">
    <meta name="viewport" content="width=device-width, initial-scale=1">
    <title>{{.Title}}</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; max-width: 760px; margin: 0 auto; padding: 20px; background: #f5f5f5; }
        .container { background: white; border-radius: 8px; padding: 20px; }
        h1 { margin-bottom: 5px; }
        .meta { color: #666; margin-bottom: 20px; }
        .stats span { display: inline-block; margin-right: 15px; }
        .post { border-bottom: 1px solid #eee; padding: 12px 0; }
        .post:last-child { border-bottom: none; }
        .head { font-size: 13px; color: #666; }
        .status { font-weight: bold; text-transform: uppercase; }
        .text { margin: 8px 0; line-height: 1.4; white-space: pre-wrap; }
        .link { color: #1da1f2; text-decoration: none; font-size: 13px; }
        .footer { margin-top: 20px; padding-top: 15px; border-top: 1px solid #eee; color: #999; font-size: 12px; text-align: center; }
    </style>
</head>
<body>
    <div class="container">
        <h1>{{.Title}}</h1>
        <div class="meta">{{.Date}}{{if .Server}} · {{.Server}}{{end}}</div>
        {{with .Stats}}
        <div class="stats">
            <span>{{.TotalPosts}} total</span>
            <span>{{.PendingPosts}} pending</span>
            <span>{{.PostedCount}} posted ({{printf "%.1f" .PostRate}}%)</span>
            <span>{{.DeletedCount}} deleted ({{printf "%.1f" .DeleteRate}}%)</span>
            <span>{{.ArchivedCount}} archived</span>
        </div>
        {{end}}

        {{range .Rows}}
        <div class="post">
            <div class="head">#{{.ID}} · <span class="status">{{.Status}}</span> · {{.Channel}} · quality {{.Quality}} · priority {{.Priority}} · {{.Age}}{{if ne .Media "none"}} · {{.Media}}{{end}}</div>
            <div class="text">{{.Text}}</div>
            {{if .Link}}<a href="{{.Link}}" class="link">Open source →</a>{{end}}
        </div>
        {{else}}
        <p>Nothing to review.</p>
        {{end}}

        <div class="footer">
            {{len .Rows}} posts{{if .Omitted}} · {{.Omitted}} more not shown{{end}} · Generated by modsync
        </div>
    </div>
</body>
</html>`
