package components

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/a-h/templ"
	"github.com/owasp/nest/cmd/web/components/types"
	"github.com/owasp/nest/pkg/core"
	"github.com/owasp/nest/pkg/search"
)

// html collects the first write error so markup can be emitted without
// checking every call.
type html struct {
	ctx context.Context
	w   io.Writer
	err error
}

func (h *html) raw(parts ...string) {
	for _, s := range parts {
		if h.err != nil {
			return
		}
		_, h.err = io.WriteString(h.w, s)
	}
}

func (h *html) text(s string) {
	h.raw(templ.EscapeString(s))
}

// attr writes name="value" with value escaped.
func (h *html) attr(name, value string) {
	h.raw(" ", name, `="`, templ.EscapeString(value), `"`)
}

// render writes a nested component.
func (h *html) render(c templ.Component) {
	if h.err == nil {
		h.err = c.Render(h.ctx, h.w)
	}
}

// component adapts a markup function to templ.Component.
func component(fn func(h *html)) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		h := &html{ctx: ctx, w: w}
		fn(h)
		return h.err
	})
}

// withLayout renders body as the children of the page layout.
func withLayout(l types.Layout, body templ.Component) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		return layout(l).Render(templ.WithChildren(ctx, body), w)
	})
}

func layout(l types.Layout) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		children := templ.GetChildren(ctx)
		ctx = templ.ClearChildren(ctx)

		h := &html{ctx: ctx, w: w}
		h.raw(`<!DOCTYPE html><html lang="en"><head><meta charset="utf-8">`)
		h.raw(`<meta name="viewport" content="width=device-width, initial-scale=1">`)
		h.raw(`<title>`)
		h.text(l.Title)
		h.raw(`</title><style>`, stylesheet, `</style></head><body>`)
		h.render(navBar(l.Nav))
		h.raw(`<main>`)
		h.render(children)
		h.raw(`</main><footer>nest `)
		h.text(l.Version)
		h.raw(`</footer></body></html>`)
		return h.err
	})
}

func navBar(links []types.IndexLink) templ.Component {
	return component(func(h *html) {
		h.raw(`<header><nav><a class="brand" href="/">OWASP Nest</a>`)
		for _, link := range links {
			h.render(navLink(link))
		}
		h.raw(`</nav></header>`)
	})
}

func navLink(link types.IndexLink) templ.Component {
	return component(func(h *html) {
		h.raw(`<a`)
		h.attr("href", link.URL)
		if link.Active {
			h.raw(` class="active" aria-current="page"`)
		}
		h.raw(`>`)
		h.text(link.Title)
		h.raw(`</a>`)
	})
}

func heading(title string) templ.Component {
	return component(func(h *html) {
		h.raw(`<h1>`)
		h.text(title)
		h.raw(`</h1>`)
	})
}

// Home lists the searchable indexes.
func Home(data types.HomeData) templ.Component {
	return withLayout(data.Layout, component(func(h *html) {
		h.render(heading(data.Title))
		h.raw(`<ul class="indexes">`)
		for _, idx := range data.Indexes {
			h.render(indexItem(idx, data.Counted))
		}
		h.raw(`</ul>`)
	}))
}

func indexItem(idx types.IndexLink, counted bool) templ.Component {
	return component(func(h *html) {
		h.raw(`<li><a`)
		h.attr("href", idx.URL)
		h.raw(`>`)
		h.text(idx.Title)
		h.raw(`</a>`)
		if counted {
			h.raw(` <span class="count">`)
			h.text(FormatCount(idx.Documents))
			h.raw(`</span>`)
		}
		h.raw(`<p>`)
		h.text(idx.Placeholder)
		h.raw(`</p></li>`)
	})
}

// Listing renders a search page: the search form, the hits or the failure
// toast, and the pagination.
func Listing(data types.ListingData) templ.Component {
	return withLayout(data.Layout, component(func(h *html) {
		h.render(heading(data.Index.PageTitle))
		h.render(searchForm(data))
		h.render(results(data))
		h.raw(`<script>`, liveScript, `</script>`)
	}))
}

func results(data types.ListingData) templ.Component {
	return component(func(h *html) {
		h.raw(`<section id="results"`)
		h.attr("data-live", data.LiveURL)
		h.raw(`>`)
		switch {
		case data.Toast != nil:
			h.render(toast(data))
		case !data.Loaded:
			h.raw(`<p class="loading">Loading…</p>`)
		case len(data.Hits) == 0:
			h.raw(`<p class="empty">No `)
			h.text(strings.ToLower(data.Index.Title))
			h.raw(` found.</p>`)
		default:
			h.render(hitList(data.Hits))
			h.render(pagination(data))
		}
		h.raw(`</section>`)
	})
}

func searchForm(data types.ListingData) templ.Component {
	return component(func(h *html) {
		h.raw(`<form class="search" method="get"`)
		h.attr("action", "/"+data.Index.Name)
		h.raw(`><input type="search" name="q" autofocus`)
		h.attr("value", data.Query)
		h.attr("placeholder", data.Index.Placeholder)
		h.raw(`>`)
		if len(data.Sorts) > 0 {
			h.render(sortSelect(data.Sorts))
			h.render(orderSelect(data.Order))
		}
		h.raw(`<button type="submit">Search</button></form>`)
	})
}

func sortSelect(sorts []types.SortChoice) templ.Component {
	return component(func(h *html) {
		h.raw(`<select name="sort" aria-label="Sort by">`)
		for _, s := range sorts {
			h.render(option(s.Key, s.Label, s.Selected))
		}
		h.raw(`</select>`)
	})
}

func orderSelect(current search.Order) templ.Component {
	return component(func(h *html) {
		h.raw(`<select name="order" aria-label="Order">`)
		h.render(option(string(search.OrderDesc), "Descending", current == search.OrderDesc))
		h.render(option(string(search.OrderAsc), "Ascending", current == search.OrderAsc))
		h.raw(`</select>`)
	})
}

func option(value, label string, selected bool) templ.Component {
	return component(func(h *html) {
		h.raw(`<option`)
		h.attr("value", value)
		if selected {
			h.raw(` selected`)
		}
		h.raw(`>`)
		h.text(label)
		h.raw(`</option>`)
	})
}

func toast(data types.ListingData) templ.Component {
	return component(func(h *html) {
		h.raw(`<div role="alert"`)
		h.attr("class", "toast toast-"+data.Toast.Variant)
		h.raw(`><strong>`)
		h.text(data.Toast.Title)
		h.raw(`</strong><p>`)
		h.text(data.Toast.Description)
		h.raw(`</p><a class="retry"`)
		h.attr("href", data.RetryURL)
		h.raw(`>Try again</a></div>`)
	})
}

func hitList(docs []core.Document) templ.Component {
	return component(func(h *html) {
		h.raw(`<ul class="hits">`)
		for i := range docs {
			h.render(hitItem(&docs[i]))
		}
		h.raw(`</ul>`)
	})
}

func hitItem(doc *core.Document) templ.Component {
	return component(func(h *html) {
		h.raw(`<li class="hit"><h2>`)
		if doc.URL != "" {
			h.raw(`<a`)
			h.attr("href", doc.URL)
			h.raw(`>`)
			h.text(doc.Name)
			h.raw(`</a>`)
		} else {
			h.text(doc.Name)
		}
		h.raw(`</h2>`)
		if doc.Summary != "" {
			h.raw(`<p>`)
			h.text(doc.Summary)
			h.raw(`</p>`)
		}
		if attrs := Attributes(doc); len(attrs) > 0 {
			h.render(attributeList(attrs))
		}
		h.raw(`</li>`)
	})
}

func attributeList(attrs []Attribute) templ.Component {
	return component(func(h *html) {
		h.raw(`<dl>`)
		for _, a := range attrs {
			h.raw(`<dt>`)
			h.text(a.Label)
			h.raw(`</dt><dd>`)
			h.text(a.Value)
			h.raw(`</dd>`)
		}
		h.raw(`</dl>`)
	})
}

func pagination(data types.ListingData) templ.Component {
	return component(func(h *html) {
		if len(data.Pages) == 0 {
			return
		}
		h.raw(`<nav class="pagination" aria-label="Pagination">`)
		if data.PrevURL != "" {
			h.raw(`<a rel="prev"`)
			h.attr("href", data.PrevURL)
			h.raw(`>Prev</a>`)
		}
		for _, p := range data.Pages {
			h.render(pageLink(p))
		}
		if data.NextURL != "" {
			h.raw(`<a rel="next"`)
			h.attr("href", data.NextURL)
			h.raw(`>Next</a>`)
		}
		h.raw(`</nav>`)
	})
}

func pageLink(p types.PageLink) templ.Component {
	return component(func(h *html) {
		switch {
		case p.Gap:
			h.raw(`<span class="gap">…</span>`)
		case p.Current:
			h.raw(fmt.Sprintf(`<span class="current" aria-current="page">%d</span>`, p.Number))
		default:
			h.raw(`<a`)
			h.attr("href", p.URL)
			h.raw(fmt.Sprintf(`>%d</a>`, p.Number))
		}
	})
}

const stylesheet = `
body{font-family:system-ui,sans-serif;margin:0;color:#1f2937;background:#f9fafb}
header nav{display:flex;gap:1rem;padding:.75rem 1.5rem;background:#111827}
header a{color:#e5e7eb;text-decoration:none}header a.active,.brand{color:#fff;font-weight:600}
main{max-width:56rem;margin:0 auto;padding:1.5rem}
form.search{display:flex;gap:.5rem;margin-bottom:1.5rem}form.search input{flex:1;padding:.5rem}
.hits{list-style:none;padding:0}.hit{background:#fff;border:1px solid #e5e7eb;border-radius:.5rem;padding:1rem;margin-bottom:.75rem}
.hit h2{font-size:1.1rem;margin:0 0 .25rem}.hit dl{display:grid;grid-template-columns:max-content 1fr;gap:.1rem .75rem;font-size:.85rem;color:#6b7280}
.hit dd{margin:0}.toast{border:1px solid #dc2626;background:#fef2f2;padding:1rem;border-radius:.5rem}
.pagination{display:flex;gap:.5rem;justify-content:center}.current{font-weight:700}
.empty,.loading{color:#6b7280;text-align:center}.count{color:#6b7280;font-size:.85rem}
footer{text-align:center;color:#9ca3af;font-size:.8rem;padding:1rem}
`

// liveScript upgrades the page to a live session: typing searches after the
// server side debounce, and state updates replace the results in place.
const liveScript = `
(function(){
var results=document.getElementById("results"),form=document.querySelector("form.search");
if(!results||!form||!window.WebSocket)return;
var proto=location.protocol==="https:"?"wss://":"ws://";
var ws=new WebSocket(proto+location.host+results.dataset.live+location.search);
function esc(s){var d=document.createElement("div");d.textContent=s==null?"":s;return d.innerHTML}
function send(m){if(ws.readyState===1)ws.send(JSON.stringify(m))}
ws.onmessage=function(ev){
 var m=JSON.parse(ev.data);
 if(m.type==="url")history.replaceState(null,"",m.url);
 else if(m.type==="title")document.title=m.title;
 else if(m.type==="scroll")window.scrollTo(0,0);
 else if(m.type==="toast")results.innerHTML='<div class="toast" role="alert"><strong>'+esc(m.toast.title)+'</strong><p>'+esc(m.toast.description)+'</p></div>';
 else if(m.type==="state"&&m.state.is_loaded&&m.state.phase==="loaded"){
  var items=m.state.items||[];
  if(!items.length){results.innerHTML='<p class="empty">Nothing found.</p>';return}
  results.innerHTML='<ul class="hits">'+items.map(function(d){
   var name=d.url?'<a href="'+esc(d.url)+'">'+esc(d.name)+'</a>':esc(d.name);
   return '<li class="hit"><h2>'+name+'</h2>'+(d.summary?'<p>'+esc(d.summary)+'</p>':'')+'</li>'}).join("")+'</ul>';
 }
};
form.q.addEventListener("input",function(){send({type:"input",query:form.q.value})});
form.addEventListener("change",function(e){
 if(e.target.name==="sort")send({type:"sort",sort:e.target.value});
 if(e.target.name==="order")send({type:"order",order:e.target.value});
});
form.addEventListener("submit",function(e){if(ws.readyState===1)e.preventDefault()});
})();
`
