package server

// dashboardHTML is the static status page; it polls /healthz every 5 s.
const dashboardHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Sefaria Gateway</title>
<style>
  body { font-family: system-ui, sans-serif; margin: 2rem; background: #f7f6f2; color: #222; }
  h1 { font-size: 1.3rem; }
  table { border-collapse: collapse; margin-top: 1rem; }
  td, th { border: 1px solid #ccc; padding: .35rem .7rem; text-align: left; font-size: .9rem; }
  th { background: #ece9e1; }
  #status { margin-top: 1rem; font-size: .85rem; color: #666; }
</style>
</head>
<body>
<h1>Sefaria Gateway</h1>
<table>
  <tr><th>Total requests</th><td id="total">–</td></tr>
  <tr><th>Errors</th><td id="errors">–</td></tr>
  <tr><th>Avg latency (ms)</th><td id="latency">–</td></tr>
  <tr><th>Cache size</th><td id="cache">–</td></tr>
  <tr><th>Web fetches</th><td id="fetches">–</td></tr>
  <tr><th>Cache hits</th><td id="hits">–</td></tr>
  <tr><th>Robots blocked</th><td id="robots">–</td></tr>
  <tr><th>Chain heartbeat</th><td id="chain">–</td></tr>
</table>
<h2 style="font-size:1rem">Tool calls</h2>
<table id="tools"><tr><th>Tool</th><th>Calls</th><th>Avg ms</th></tr></table>
<div id="status"></div>
<script>
async function refresh() {
  try {
    const res = await fetch('/healthz');
    const s = await res.json();
    document.getElementById('total').textContent = s.totalRequests;
    document.getElementById('errors').textContent = s.errors;
    document.getElementById('latency').textContent =
      s.latCount ? (s.latSumMs / s.latCount).toFixed(1) : '0';
    document.getElementById('cache').textContent = s.cacheSize;
    document.getElementById('fetches').textContent = s.counters.fetches;
    document.getElementById('hits').textContent = s.counters.cacheHits;
    document.getElementById('robots').textContent = s.counters.robotsBlocked;
    document.getElementById('chain').textContent =
      s.pythonChainHeartbeat.status + ' @ ' + s.pythonChainHeartbeat.checkedAt;
    const table = document.getElementById('tools');
    while (table.rows.length > 1) table.deleteRow(1);
    for (const [tool, count] of Object.entries(s.toolCounts || {})) {
      const lat = (s.toolLatencies || {})[tool] || {sum: 0, count: 0};
      const row = table.insertRow();
      row.insertCell().textContent = tool;
      row.insertCell().textContent = count;
      row.insertCell().textContent = lat.count ? (lat.sum / lat.count).toFixed(1) : '0';
    }
    document.getElementById('status').textContent = 'updated ' + new Date().toLocaleTimeString();
  } catch (err) {
    document.getElementById('status').textContent = 'healthz unreachable: ' + err;
  }
}
refresh();
setInterval(refresh, 5000);
</script>
</body>
</html>
`
