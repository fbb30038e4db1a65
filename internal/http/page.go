package http

import (
	"html/template"
	"net/http"

	"go.uber.org/zap"

	"bilimusic/internal/core"
	"bilimusic/internal/i18n"
)

var pageTemplate = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html lang="{{.Lang}}">
<head>
    <meta charset="utf-8">
    <meta name="viewport" content="width=device-width, initial-scale=1">
    <title>{{.T "ui.title"}}</title>
    <style>
        body { font-family: -apple-system, "PingFang SC", "Microsoft YaHei", Arial, sans-serif; margin: 0; display: flex; min-height: 100vh; }
        aside { width: 320px; padding: 24px; background: #f5f6f8; box-sizing: border-box; }
        main { flex: 1; padding: 24px 40px; }
        label { display: block; margin: 12px 0 4px; font-size: 14px; color: #555; }
        input { width: 100%; padding: 8px; box-sizing: border-box; }
        button { margin-top: 12px; padding: 10px 16px; width: 100%; cursor: pointer; }
        button.primary { background: #fb7299; color: #fff; border: none; border-radius: 4px; }
        #cover { max-width: 250px; margin-top: 8px; }
        .hidden { display: none; }
        .status { margin-top: 12px; white-space: pre-wrap; }
        .error { color: #c0392b; }
        .success { color: #27ae60; }
    </style>
</head>
<body>
<aside>
    <h2>{{.T "ui.input_header"}}</h2>
    <label for="link">{{.T "ui.link_label"}}</label>
    <input id="link" placeholder="{{.T "ui.link_placeholder"}}">
    <button id="resolve">{{.T "ui.resolve_button"}}</button>
    <div id="resolve-status" class="status"></div>

    <div id="preview" class="{{if not .Preview}}hidden{{end}}">
        <hr>
        <h3>{{.T "ui.cover_header"}}</h3>
        <img id="cover" alt="" src="{{if .Preview}}/api/cover?v={{.Preview.Video.ID}}{{end}}">
        <label for="title">{{.T "ui.title_label"}}</label>
        <input id="title" value="{{if .Preview}}{{.Preview.Track.Title}}{{end}}">
        <label for="artist">{{.T "ui.artist_label"}}</label>
        <input id="artist" value="{{if .Preview}}{{.Preview.Track.Artist}}{{end}}">
    </div>
</aside>
<main>
    <h1>{{.T "ui.title"}}</h1>
    <p>{{.T "ui.tagline"}}</p>
    <hr>
    <div id="empty" class="{{if .Preview}}hidden{{end}}">{{.T "ui.empty_hint"}}</div>
    <div id="current" class="{{if not .Preview}}hidden{{end}}">
        <p id="current-video">{{if .Preview}}{{printf .CurrentVideo .Preview.Video.Title .Preview.Video.Author}}{{end}}</p>
        <button id="convert" class="primary">{{.T "ui.convert_button"}}</button>
        <div id="convert-status" class="status"></div>
    </div>
</main>
<script>
const text = {
    resolving: {{.T "ui.resolving"}},
    converting: {{.T "ui.converting"}},
    converted: {{.T "ui.converted"}},
    currentVideo: {{.CurrentVideo}},
};

function setStatus(el, message, kind) {
    el.textContent = message;
    el.className = "status " + (kind || "");
}

async function failure(resp) {
    try {
        const body = await resp.json();
        return body.message || resp.statusText;
    } catch (e) {
        return resp.statusText;
    }
}

document.getElementById("resolve").addEventListener("click", async () => {
    const status = document.getElementById("resolve-status");
    setStatus(status, text.resolving);
    const resp = await fetch("/api/resolve", {
        method: "POST",
        headers: {"Content-Type": "application/json"},
        body: JSON.stringify({text: document.getElementById("link").value}),
    });
    if (!resp.ok) {
        setStatus(status, await failure(resp), "error");
        document.getElementById("preview").classList.add("hidden");
        document.getElementById("current").classList.add("hidden");
        document.getElementById("empty").classList.remove("hidden");
        return;
    }
    const preview = await resp.json();
    setStatus(status, preview.message, "success");
    document.getElementById("cover").src = preview.has_cover ? "/api/cover?v=" + preview.bvid : preview.cover_url;
    document.getElementById("title").value = preview.track.title;
    document.getElementById("artist").value = preview.track.artist;
    document.getElementById("current-video").textContent =
        text.currentVideo.replace("%s", preview.title).replace("%s", preview.author);
    document.getElementById("preview").classList.remove("hidden");
    document.getElementById("current").classList.remove("hidden");
    document.getElementById("empty").classList.add("hidden");
});

document.getElementById("convert").addEventListener("click", async () => {
    const status = document.getElementById("convert-status");
    setStatus(status, text.converting);
    const resp = await fetch("/api/convert", {
        method: "POST",
        headers: {"Content-Type": "application/json"},
        body: JSON.stringify({
            title: document.getElementById("title").value,
            artist: document.getElementById("artist").value,
        }),
    });
    if (!resp.ok) {
        setStatus(status, await failure(resp), "error");
        return;
    }
    const disposition = resp.headers.get("Content-Disposition") || "";
    const match = /filename\*=utf-8''([^;]+)|filename="?([^";]+)"?/i.exec(disposition);
    const name = match ? decodeURIComponent(match[1] || match[2]) : "audio";
    const url = URL.createObjectURL(await resp.blob());
    const link = document.createElement("a");
    link.href = url;
    link.download = name;
    link.click();
    URL.revokeObjectURL(url);
    setStatus(status, text.converted, "success");
});
</script>
</body>
</html>`))

type pageData struct {
	Lang         string
	Preview      *core.Preview
	CurrentVideo string
	localizer    *i18n.Localizer
}

func (d pageData) T(key string) string {
	return d.localizer.T(key)
}

func (s *Server) homeHandler(w http.ResponseWriter, _ *http.Request) {
	data := pageData{
		Lang:         s.localizer.Language(),
		CurrentVideo: s.localizer.T("ui.current_video"),
		localizer:    s.localizer,
	}
	if preview, ok := s.pipeline.Current(); ok {
		data.Preview = preview
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if err := pageTemplate.Execute(w, data); err != nil {
		s.logger.Error("Failed to render page", zap.Error(err))
	}
}
