package api

// dashboardHTML renders a read-only status page for the gateway's single
// backend target (no tenant CRUD — spec.md §5 "One backend session per
// client session, no global pool").
const dashboardHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>Gateway Dashboard</title>
<style>
*,*::before,*::after{box-sizing:border-box;margin:0;padding:0}
:root{
  --bg:#0f1117;--bg-card:#161b22;--border:#30363d;--text:#e1e4e8;--text-muted:#8b949e;
  --primary:#58a6ff;--green:#3fb950;--red:#f85149;--yellow:#d29922;--radius:8px;
}
body{font-family:-apple-system,BlinkMacSystemFont,"Segoe UI",Helvetica,Arial,sans-serif;background:var(--bg);color:var(--text);line-height:1.5;min-height:100vh}
a{color:var(--primary);text-decoration:none}
.container{max-width:960px;margin:0 auto;padding:24px}
header{display:flex;align-items:center;gap:12px;margin-bottom:24px}
.title{font-size:20px;font-weight:700}
.badge{display:inline-flex;padding:2px 10px;border-radius:12px;font-size:12px;font-weight:600;border:1px solid var(--border)}
.badge-healthy{color:var(--green);border-color:var(--green)}
.badge-unhealthy{color:var(--red);border-color:var(--red)}
.badge-unknown{color:var(--yellow);border-color:var(--yellow)}
.grid{display:grid;grid-template-columns:repeat(auto-fit,minmax(220px,1fr));gap:16px;margin-bottom:24px}
.card{background:var(--bg-card);border:1px solid var(--border);border-radius:var(--radius);padding:16px}
.card-label{color:var(--text-muted);font-size:12px;text-transform:uppercase;letter-spacing:.04em;margin-bottom:6px}
.card-value{font-size:22px;font-weight:700}
.section{background:var(--bg-card);border:1px solid var(--border);border-radius:var(--radius);padding:16px;margin-bottom:16px}
.section h3{font-size:14px;margin-bottom:12px;color:var(--text-muted)}
.kv{display:flex;justify-content:space-between;padding:6px 0;border-bottom:1px solid var(--border);font-size:13px}
.kv:last-child{border-bottom:none}
.kv .k{color:var(--text-muted)}
.links{display:flex;gap:16px;margin-top:8px}
</style>
</head>
<body>
<div class="container">
  <header>
    <div class="title">DB Gateway</div>
    <span id="healthBadge" class="badge badge-unknown">unknown</span>
  </header>

  <div class="grid">
    <div class="card"><div class="card-label">Protocol</div><div class="card-value" id="protocol">-</div></div>
    <div class="card"><div class="card-label">Uptime</div><div class="card-value" id="uptime">-</div></div>
    <div class="card"><div class="card-label">Goroutines</div><div class="card-value" id="goroutines">-</div></div>
    <div class="card"><div class="card-label">Memory (MB)</div><div class="card-value" id="memory">-</div></div>
  </div>

  <div class="section">
    <h3>Backend Target</h3>
    <div id="target"></div>
  </div>

  <div class="section">
    <h3>Links</h3>
    <div class="links">
      <a href="/status">/status</a>
      <a href="/health">/health</a>
      <a href="/config">/config</a>
      <a href="/metrics">/metrics</a>
    </div>
  </div>
</div>

<script>
function esc(s){return String(s).replace(/[&<>"']/g,function(c){return {"&":"&amp;","<":"&lt;",">":"&gt;","\"":"&quot;","'":"&#39;"}[c]});}

function refresh(){
  fetch('/status').then(function(r){return r.json();}).then(function(s){
    document.getElementById('protocol').textContent = s.proxy_db_type || '-';
    document.getElementById('uptime').textContent = s.uptime_seconds + 's';
    document.getElementById('goroutines').textContent = s.goroutines;
    document.getElementById('memory').textContent = (s.memory_mb||0).toFixed(1);
  });
  fetch('/config').then(function(r){return r.json();}).then(function(c){
    var t = c.target || {};
    var html = '';
    ['host','port','database','username','password'].forEach(function(k){
      html += '<div class="kv"><span class="k">'+k+'</span><span>'+esc(t[k])+'</span></div>';
    });
    document.getElementById('target').innerHTML = html;
  });
  fetch('/health').then(function(r){return r.json();}).then(function(h){
    var badge = document.getElementById('healthBadge');
    badge.textContent = h.status;
    badge.className = 'badge badge-' + h.status;
  });
}
refresh();
setInterval(refresh, 5000);
</script>
</body>
</html>`
