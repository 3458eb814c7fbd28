package browsertest

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// GamePage imitates the game's landing page: a loading overlay, a play
// button, the guest login form and a score counter. Up/w scores a point,
// a click scores five, Down/s ends the round.
const GamePage = `<!DOCTYPE html>
<html>
<head>
<style>
  body { margin: 0; background: rgb(0, 0, 0); }
  #layer-loading { position: fixed; inset: 0; background: #333; z-index: 10; }
  #hud { display: none; font: 24px sans-serif; color: white; }
  #menu { padding: 20px; }
</style>
</head>
<body>
<div id="layer-loading"></div>
<div id="menu">
  <input type="text" placeholder="Nickname">
  <select name="server"><option value="us">America</option><option value="eu">Europe</option></select>
  <select name="mode"><option value="ffa">FFA</option><option value="teams">Teams</option></select>
  <select name="team"><option value="0">Random</option>{{CLAN}}</select>
  <button id="play">Play</button>
  <button id="guest">Play as Guest</button>
</div>
<div id="hud">Score: <span id="score">0</span></div>
<script>
  let score = 0, over = false;
  const scoreEl = document.getElementById('score');
  function start() {
    document.getElementById('menu').style.display = 'none';
    document.getElementById('hud').style.display = 'block';
  }
  function bump(n) {
    if (over) { return; }
    score += n;
    scoreEl.innerText = String(score);
    const v = Math.min(255, score * 10);
    document.body.style.background = 'rgb(' + v + ',' + v + ',' + v + ')';
  }
  function end() {
    over = true;
    const el = document.createElement('div');
    el.id = 'game-over';
    el.innerText = ['Game', 'Over'].join(' ');
    document.body.appendChild(el);
  }
  document.getElementById('play').addEventListener('click', start);
  document.getElementById('guest').addEventListener('click', start);
  document.addEventListener('keydown', e => {
    if (e.key === 'ArrowUp' || e.key === 'w') { bump(1); }
    if (e.key === 'ArrowDown' || e.key === 's') { end(); }
  });
  document.addEventListener('mousedown', e => {
    if (document.getElementById('hud').style.display === 'block') { bump(5); }
  });
</script>
</body>
</html>`

const clanOption = `<option value="42">GARAY CLAN [EU]</option>`

// GameHTML renders the fixture, optionally without the clan option.
func GameHTML(withClan bool) string {
	if withClan {
		return strings.Replace(GamePage, "{{CLAN}}", clanOption, 1)
	}
	return strings.Replace(GamePage, "{{CLAN}}", "", 1)
}

// NewGameServer serves GameHTML(true) at "/" and GameHTML(false) at "/noclan".
func NewGameServer(t testing.TB) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(GameHTML(true)))
	})
	mux.HandleFunc("/noclan", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(GameHTML(false)))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}
