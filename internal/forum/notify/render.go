package notify

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	"net/url"
	"strings"
	texttemplate "text/template"
	"time"

	"go_forum/internal/config"
	"go_forum/internal/forum/models"
	"go_forum/internal/mailer"

	"github.com/PuerkitoBio/goquery"
)

const postTextTemplate = `{{.Course.ShortName}} -> {{.Forum.Name}} -> {{.Discussion.Name}}

{{.Post.Subject}}
by {{.AuthorName}} - {{.Created}}
---------------------------------------------------------------------
{{.Body}}
---------------------------------------------------------------------
Discuss this topic: {{.PostURL}}
Unsubscribe from this forum: {{.UnsubscribeURL}}
`

const postHTMLTemplate = `<div class="navbar"><a href="{{.CourseURL}}">{{.Course.ShortName}}</a> &raquo; <a href="{{.ForumURL}}">{{.Forum.Name}}</a> &raquo; <a href="{{.DiscussionURL}}">{{.Discussion.Name}}</a></div>
<table class="forumpost" border="0" cellpadding="3" cellspacing="0">
<tr class="header"><td><div class="subject">{{.Post.Subject}}</div><div class="author">by {{.AuthorName}} - {{.Created}}</div></td></tr>
<tr><td class="content">{{.HTMLBody}}</td></tr>
<tr><td class="link"><a href="{{.PostURL}}">Discuss this topic</a></td></tr>
</table>
<div class="unsubscribelink"><a href="{{.UnsubscribeURL}}">Unsubscribe from this forum</a></div>
`

const digestTextTemplate = `{{.SiteName}} forum digest

{{range .Sections}}=====================================================================
{{.Course.ShortName}} -> {{.Forum.Name}} -> {{.Discussion.Name}}
{{.DiscussionURL}}
{{range .Posts}}{{if .Full}}
{{.Post.Subject}}
by {{.AuthorName}} - {{.Created}}
---------------------------------------------------------------------
{{.Body}}
{{else}}{{.Created}}: {{.Post.Subject}} by {{.AuthorName}}
{{end}}{{end}}
{{end}}=====================================================================
Change your forum digest preferences: {{.PreferencesURL}}
`

const digestHTMLTemplate = `<div class="digest"><h2>{{.SiteName}} forum digest</h2>
{{range .Sections}}<div class="discussion">
<div class="navbar">{{.Course.ShortName}} &raquo; {{.Forum.Name}} &raquo; <a href="{{.DiscussionURL}}">{{.Discussion.Name}}</a></div>
{{range .Posts}}{{if .Full}}<table class="forumpost" border="0" cellpadding="3" cellspacing="0">
<tr class="header"><td><div class="subject">{{.Post.Subject}}</div><div class="author">by {{.AuthorName}} - {{.Created}}</div></td></tr>
<tr><td class="content">{{.HTMLBody}}</td></tr>
</table>
{{else}}<div class="subject"><a href="{{.PostURL}}">{{.Post.Subject}}</a> by {{.AuthorName}} - {{.Created}}</div>
{{end}}{{end}}</div>
{{end}}<div class="preferences"><a href="{{.PreferencesURL}}">Change your forum digest preferences</a></div>
</div>
`

var (
	postText   = texttemplate.Must(texttemplate.New("post").Parse(postTextTemplate))
	postHTML   = htmltemplate.Must(htmltemplate.New("post").Parse(postHTMLTemplate))
	digestText = texttemplate.Must(texttemplate.New("digest").Parse(digestTextTemplate))
	digestHTML = htmltemplate.Must(htmltemplate.New("digest").Parse(digestHTMLTemplate))
)

const timeLayout = "Monday, 2 January 2006, 15:04"

// PostContext 单帖通知渲染所需的数据
type PostContext struct {
	Recipient  *models.User
	Author     *models.User
	Course     *models.Course
	Forum      *models.Forum
	Discussion *models.Discussion
	Post       *models.Post
}

// DigestSection 摘要中的一个话题
type DigestSection struct {
	Course     *models.Course
	Forum      *models.Forum
	Discussion *models.Discussion
	Full       bool // false 时只列标题
	Posts      []DigestPost
}

// DigestPost 摘要中的一个帖子
type DigestPost struct {
	Post   *models.Post
	Author *models.User
}

// Renderer 通知内容渲染
type Renderer struct {
	siteURL  string
	siteName string
	host     string
	loc      *time.Location
}

// NewRenderer 创建渲染器
func NewRenderer(cfg config.ForumConfig) *Renderer {
	host := "localhost"
	if u, err := url.Parse(cfg.SiteURL); err == nil && u.Hostname() != "" {
		host = u.Hostname()
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	return &Renderer{
		siteURL:  strings.TrimRight(cfg.SiteURL, "/"),
		siteName: cfg.SiteName,
		host:     host,
		loc:      loc,
	}
}

type postView struct {
	*PostContext
	AuthorName     string
	Created        string
	Body           string
	HTMLBody       htmltemplate.HTML
	CourseURL      string
	ForumURL       string
	DiscussionURL  string
	PostURL        string
	UnsubscribeURL string
}

// Post 渲染单帖即时通知
func (r *Renderer) Post(pc *PostContext) (*mailer.Message, error) {
	view := postView{
		PostContext:    pc,
		AuthorName:     displayName(pc.Author),
		Created:        r.formatTime(pc.Post),
		Body:           htmlToText(pc.Post.Message),
		HTMLBody:       htmltemplate.HTML(pc.Post.Message), // 帖子内容由编辑器过滤后入库
		CourseURL:      fmt.Sprintf("%s/course/view.php?id=%d", r.siteURL, pc.Course.ID),
		ForumURL:       fmt.Sprintf("%s/mod/forum/view.php?f=%d", r.siteURL, pc.Forum.ID),
		DiscussionURL:  r.discussionURL(pc.Discussion.ID),
		PostURL:        r.postURL(pc.Discussion.ID, pc.Post.ID),
		UnsubscribeURL: fmt.Sprintf("%s/mod/forum/subscribe.php?id=%d", r.siteURL, pc.Forum.ID),
	}

	var text, html bytes.Buffer
	if err := postText.Execute(&text, view); err != nil {
		return nil, fmt.Errorf("failed to render post text: %w", err)
	}
	if err := postHTML.Execute(&html, view); err != nil {
		return nil, fmt.Errorf("failed to render post html: %w", err)
	}

	headers := map[string]string{
		"Message-ID":  r.messageID(pc.Post.ID),
		"List-Id":     fmt.Sprintf("%q <forum%d@%s>", pc.Course.ShortName, pc.Forum.ID, r.host),
		"List-Help":   view.ForumURL,
		"Precedence":  "Bulk",
		"X-Course-Id": fmt.Sprint(pc.Course.ID),
	}
	if !pc.Post.IsRoot() {
		headers["In-Reply-To"] = r.messageID(pc.Post.ParentID)
		headers["References"] = r.messageID(pc.Post.ParentID)
	}

	return &mailer.Message{
		To:       pc.Recipient,
		FromName: view.AuthorName,
		Subject:  fmt.Sprintf("%s: %s", pc.Course.ShortName, pc.Post.Subject),
		Text:     text.String(),
		HTML:     html.String(),
		Headers:  headers,
	}, nil
}

type digestPostView struct {
	DigestPost
	Full       bool
	AuthorName string
	Created    string
	Body       string
	HTMLBody   htmltemplate.HTML
	PostURL    string
}

type digestSectionView struct {
	*DigestSection
	DiscussionURL string
	Posts         []digestPostView
}

type digestView struct {
	SiteName       string
	Sections       []digestSectionView
	PreferencesURL string
}

// Digest 渲染用户的每日摘要
func (r *Renderer) Digest(user *models.User, sections []*DigestSection) (*mailer.Message, error) {
	view := digestView{
		SiteName:       r.siteName,
		PreferencesURL: r.siteURL + "/mod/forum/index.php",
	}
	for _, section := range sections {
		sv := digestSectionView{
			DigestSection: section,
			DiscussionURL: r.discussionURL(section.Discussion.ID),
		}
		for _, dp := range section.Posts {
			pv := digestPostView{
				DigestPost: dp,
				Full:       section.Full,
				AuthorName: displayName(dp.Author),
				Created:    r.formatTime(dp.Post),
				PostURL:    r.postURL(section.Discussion.ID, dp.Post.ID),
			}
			if section.Full {
				pv.Body = htmlToText(dp.Post.Message)
				pv.HTMLBody = htmltemplate.HTML(dp.Post.Message)
			}
			sv.Posts = append(sv.Posts, pv)
		}
		view.Sections = append(view.Sections, sv)
	}

	var text, html bytes.Buffer
	if err := digestText.Execute(&text, view); err != nil {
		return nil, fmt.Errorf("failed to render digest text: %w", err)
	}
	if err := digestHTML.Execute(&html, view); err != nil {
		return nil, fmt.Errorf("failed to render digest html: %w", err)
	}

	return &mailer.Message{
		To:       user,
		FromName: r.siteName,
		Subject:  fmt.Sprintf("%s: forum digest", r.siteName),
		Text:     text.String(),
		HTML:     html.String(),
		Headers:  map[string]string{"Precedence": "Bulk"},
	}, nil
}

func (r *Renderer) discussionURL(discussionID int64) string {
	return fmt.Sprintf("%s/mod/forum/discuss.php?d=%d", r.siteURL, discussionID)
}

func (r *Renderer) postURL(discussionID, postID int64) string {
	return fmt.Sprintf("%s#p%d", r.discussionURL(discussionID), postID)
}

func (r *Renderer) messageID(postID int64) string {
	return fmt.Sprintf("<forumpost%d@%s>", postID, r.host)
}

func (r *Renderer) formatTime(post *models.Post) string {
	return post.Created.In(r.loc).Format(timeLayout)
}

func displayName(user *models.User) string {
	if user == nil {
		return "Unknown user"
	}
	if name := strings.TrimSpace(user.FullName()); name != "" {
		return name
	}
	return user.Username
}

// htmlToText 把帖子 HTML 转为纯文本，块级元素之间保留换行
func htmlToText(body string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return body
	}
	doc.Find("br").ReplaceWithHtml("\n")
	doc.Find("p, div, li, tr, h1, h2, h3, h4, h5, h6, blockquote, pre").AppendHtml("\n")
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		if href != "" && strings.TrimSpace(s.Text()) != href {
			s.AppendHtml(" (" + htmltemplate.HTMLEscapeString(href) + ")")
		}
	})

	var lines []string
	blank := false
	for _, line := range strings.Split(doc.Text(), "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			if !blank && len(lines) > 0 {
				lines = append(lines, "")
			}
			blank = true
			continue
		}
		lines = append(lines, line)
		blank = false
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
