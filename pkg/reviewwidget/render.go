package reviewwidget

import (
	"fmt"
	"html/template"
	"io"
	"strings"
)

var funcs = template.FuncMap{
	"stars": func(rating int) string {
		n := ClampStars(rating)
		return strings.Repeat("★", n) + strings.Repeat("☆", 5-n)
	},
	"average": func(avg *float64) string {
		if avg == nil {
			return "no ratings yet"
		}
		return fmt.Sprintf("%.1f", *avg)
	},
	"bucket": func(s Summary, k string) int {
		return s.Distribution[k]
	},
	"buckets": func() []string {
		return []string{"5", "4", "3", "2", "1"}
	},
	"ratings": func() []int {
		return []int{1, 2, 3, 4, 5}
	},
}

var widgetTemplate = template.Must(template.New("widget").Funcs(funcs).Parse(`<section class="reviews" data-site="{{.Mount.SiteSlug}}" data-type="{{.Mount.EntityType}}" data-slug="{{.Mount.EntitySlug}}">
<h2>Reviews of {{.Mount.EntityName}}</h2>
{{- if .Unavailable}}
<p class="reviews-empty">No reviews yet.</p>
{{- else}}
<div class="reviews-summary">
<p><span class="average">{{average .Summary.Average}}</span> from {{.Summary.Count}} review{{if ne .Summary.Count 1}}s{{end}}</p>
<dl class="distribution">
{{- range buckets}}
<dt>{{.}}★</dt><dd>{{bucket $.Summary .}}</dd>
{{- end}}
</dl>
</div>
{{- if not .Reviews}}
<p class="reviews-empty">No reviews yet.</p>
{{- end}}
<ol class="reviews-list" data-sort="{{.Sort}}">
{{- range $r := .Reviews}}
<li><span class="stars" aria-label="{{$r.Rating}} out of 5">{{stars $r.Rating}}</span> <strong>{{$r.DisplayName}}</strong> <time>{{$r.CreatedAt.Format "2 January 2006"}}</time><p>{{$r.Body}}</p></li>
{{- end}}
</ol>
{{- end}}
{{- if .Notice}}
<p class="reviews-notice" role="status">{{.Notice}}</p>
{{- end}}
<form class="reviews-form" method="post">
{{- range $field, $msg := .FieldErrors}}
<p class="field-error" data-field="{{$field}}">{{$msg}}</p>
{{- end}}
<fieldset class="rating">
{{- range $n := ratings}}
<label><input type="radio" name="rating" value="{{$n}}"{{if eq $n $.Form.Rating}} checked{{end}}>{{$n}}★</label>
{{- end}}
</fieldset>
<input type="text" name="displayName" value="{{.Form.DisplayName}}">
<textarea name="body">{{.Form.Body}}</textarea>
<input type="text" name="honeypot" value="" tabindex="-1" autocomplete="off" hidden>
<button type="submit"{{if .Submitting}} disabled{{end}}>Send review</button>
</form>
</section>
`))

// Render writes the HTML of v to w. All user content is escaped.
func Render(w io.Writer, v View) error {
	if err := widgetTemplate.Execute(w, v); err != nil {
		return fmt.Errorf("render review widget: %w", err)
	}
	return nil
}

// Render writes the current view of the widget to out.
func (w *Widget) Render(out io.Writer) error {
	return Render(out, w.View())
}
