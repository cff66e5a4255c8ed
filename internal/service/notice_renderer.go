package service

import (
	"bytes"
	"fmt"
	"html/template"
	"strconv"
	"strings"
	"time"

	"github.com/noah-isme/edunotice/internal/models"
	"github.com/noah-isme/edunotice/internal/templates"
	"github.com/noah-isme/edunotice/pkg/config"
	"github.com/noah-isme/edunotice/pkg/mailer"
)

const (
	subjectNew       = "Azure subscription registered"
	subjectUpdated   = "Azure subscription updated"
	subjectCancelled = "Azure subscription cancelled"
	subjectExpiry    = "Azure subscription expires in %d day(s)"
	subjectUsage     = "Azure subscription's utilisation ≥ %d%%"
	subjectSummary   = "EduHub activity update"
)

// NoticeSubject is everything the renderer needs about one subscription.
type NoticeSubject struct {
	GUID     string
	Course   string
	Lab      string
	Current  models.Detail
	Previous *models.Detail
}

// FieldChange is one row of the update notice.
type FieldChange struct {
	Name    string
	Old     string
	New     string
	Changed bool
}

type noticeView struct {
	Headline string
	Footer   string
	GUID     string
	Course   string
	Lab      string
	Current  models.Detail
	Previous *models.Detail
	Changes  []FieldChange
	Code     int
	DaysLeft int
	Digest   models.Digest
}

// NoticeRenderer turns notices into email messages.
type NoticeRenderer struct {
	sets   map[string]*template.Template
	prefix string
	footer string
}

// NewNoticeRenderer parses the embedded templates.
func NewNoticeRenderer(cfg config.NoticeConfig) (*NoticeRenderer, error) {
	funcs := template.FuncMap{
		"money":    FormatCurrency,
		"date":     func(t time.Time) string { return t.Format(expiryDateLayout) },
		"datetime": func(t time.Time) string { return t.UTC().Format("2006-01-02 15:04 MST") },
	}
	sets := make(map[string]*template.Template)
	for _, name := range []string{"new", "update", "expiry", "usage", "summary"} {
		tmpl, err := template.New(name).Funcs(funcs).ParseFS(templates.Email, "email/layout.html", "email/"+name+".html")
		if err != nil {
			return nil, fmt.Errorf("parse %s template: %w", name, err)
		}
		sets[name] = tmpl
	}
	return &NoticeRenderer{sets: sets, prefix: strings.TrimSpace(cfg.SubjectPrefix), footer: cfg.Footer}, nil
}

// New renders the registration notice.
func (r *NoticeRenderer) New(subject NoticeSubject) (mailer.Message, error) {
	view := r.view(subject, subjectNew)
	return r.message("new", r.subject(subjectNew), models.LabelRegistered, subject, view)
}

// Update renders the change notice. A move into cancelled status gets its own subject.
func (r *NoticeRenderer) Update(subject NoticeSubject) (mailer.Message, error) {
	headline, label := subjectUpdated, models.LabelUpdated
	if subject.Current.Cancelled() && (subject.Previous == nil || !subject.Previous.Cancelled()) {
		headline, label = subjectCancelled, models.LabelCancelled
	}
	view := r.view(subject, headline)
	if subject.Previous != nil {
		view.Changes = Changes(subject.Previous.SnapshotData, subject.Current.SnapshotData)
	}
	return r.message("update", r.subject(headline), label, subject, view)
}

// Expiry renders the countdown notice for the given code.
func (r *NoticeRenderer) Expiry(subject NoticeSubject, code, daysLeft int) (mailer.Message, error) {
	headline := fmt.Sprintf(subjectExpiry, code)
	view := r.view(subject, headline)
	view.Code = code
	view.DaysLeft = max(daysLeft, 0)
	return r.message("expiry", r.subject(headline), models.LabelExpiresIn, subject, view)
}

// Usage renders the budget notice for the given code.
func (r *NoticeRenderer) Usage(subject NoticeSubject, code int) (mailer.Message, error) {
	headline := fmt.Sprintf(subjectUsage, code)
	view := r.view(subject, headline)
	view.Code = code
	return r.message("usage", r.subject(headline), models.UsageLabel(code), subject, view)
}

// Summary renders the digest sent to operators.
func (r *NoticeRenderer) Summary(digest models.Digest, to []string) (mailer.Message, error) {
	view := noticeView{Headline: subjectSummary, Footer: r.footer, Digest: digest}
	html, err := r.execute("summary", view)
	if err != nil {
		return mailer.Message{}, err
	}
	text := fmt.Sprintf("%s\nFrom %s to %s\nNew subscriptions: %d\nUpdated subscriptions: %d\nNotifications sent: %d\n",
		subjectSummary, digest.From.UTC().Format(time.RFC3339), digest.To.UTC().Format(time.RFC3339),
		len(digest.New), len(digest.Updated), len(digest.Notices))
	return mailer.Message{
		To:       to,
		Subject:  r.subject(subjectSummary),
		HTMLBody: html,
		TextBody: text,
		Category: "summary",
	}, nil
}

func (r *NoticeRenderer) view(subject NoticeSubject, headline string) noticeView {
	return noticeView{
		Headline: headline,
		Footer:   r.footer,
		GUID:     subject.GUID,
		Course:   subject.Course,
		Lab:      subject.Lab,
		Current:  subject.Current,
		Previous: subject.Previous,
	}
}

func (r *NoticeRenderer) message(name, subjectLine, label string, subject NoticeSubject, view noticeView) (mailer.Message, error) {
	html, err := r.execute(name, view)
	if err != nil {
		return mailer.Message{}, err
	}
	text := fmt.Sprintf("%s\nSubscription: %s (%s)\nCourse: %s\nLab: %s\nBudget: %s\nConsumed: %s\nExpiry date: %s\n",
		view.Headline,
		subject.Current.SubscriptionName, subject.GUID,
		subject.Course, subject.Lab,
		FormatCurrency(subject.Current.HandoutBudget),
		FormatCurrency(subject.Current.HandoutConsumed),
		subject.Current.SubscriptionExpiryDate.Format(expiryDateLayout),
	)
	if r.footer != "" {
		text += "\n" + r.footer + "\n"
	}
	return mailer.Message{
		To:       []string{subject.Current.SubscriptionUsers},
		Subject:  subjectLine,
		HTMLBody: html,
		TextBody: text,
		Category: label,
	}, nil
}

func (r *NoticeRenderer) execute(name string, view noticeView) (string, error) {
	tmpl, ok := r.sets[name]
	if !ok {
		return "", fmt.Errorf("template %s not loaded", name)
	}
	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "layout", view); err != nil {
		return "", fmt.Errorf("render %s notice: %w", name, err)
	}
	return buf.String(), nil
}

func (r *NoticeRenderer) subject(base string) string {
	if r.prefix == "" {
		return base
	}
	return r.prefix + " " + base
}

// Changes lists the fields shown in the update notice, flagging the ones that differ.
func Changes(prev, curr models.SnapshotData) []FieldChange {
	field := func(name, old, cur string) FieldChange {
		return FieldChange{Name: name, Old: old, New: cur, Changed: old != cur}
	}
	return []FieldChange{
		field("Subscription name", prev.SubscriptionName, curr.SubscriptionName),
		field("Subscription status", prev.SubscriptionStatus, curr.SubscriptionStatus),
		field("Handout status", prev.HandoutStatus, curr.HandoutStatus),
		field("Budget", FormatCurrency(prev.HandoutBudget), FormatCurrency(curr.HandoutBudget)),
		field("Expiry date", prev.SubscriptionExpiryDate.Format(expiryDateLayout), curr.SubscriptionExpiryDate.Format(expiryDateLayout)),
		field("Users", prev.SubscriptionUsers, curr.SubscriptionUsers),
	}
}

// FormatCurrency renders an amount as "$1,234.56".
func FormatCurrency(amount float64) string {
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	raw := strconv.FormatFloat(amount, 'f', 2, 64)
	whole, frac := raw[:len(raw)-3], raw[len(raw)-2:]
	var grouped strings.Builder
	for i, digit := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			grouped.WriteByte(',')
		}
		grouped.WriteRune(digit)
	}
	return sign + "$" + grouped.String() + "." + frac
}
