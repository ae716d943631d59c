package ui

import "github.com/cwbudde/symregweb/internal/orchestrator"

func emptyStatus() orchestrator.Status {
	return orchestrator.Status{State: orchestrator.StateIdle}
}

const pageCSS = `
body { font-family: system-ui, sans-serif; margin: 2rem auto; max-width: 960px; color: #222; }
textarea, input[name=operators] { width: 100%; font-family: monospace; }
fieldset { display: flex; flex-wrap: wrap; gap: .75rem; margin: 1rem 0; }
fieldset input[type=number] { width: 6rem; }
.controls { margin: 1rem 0; display: flex; gap: .5rem; }
progress { width: 100%; }
pre#best { background: #f4f4f4; padding: .5rem; white-space: pre-wrap; }
#frontier li { display: flex; gap: .75rem; align-items: baseline; margin: .25rem 0; }
#frontier .meta { color: #666; min-width: 12rem; font-family: monospace; }
#frontier code { flex: 1; }
table { width: 100%; border-collapse: collapse; }
th, td { text-align: left; padding: .25rem .5rem; border-bottom: 1px solid #ddd; }
.state-failed td { color: #a00; }
`

const pageJS = `
(function () {
  const form = document.getElementById("run-form");
  const runBtn = document.getElementById("run");
  const stopBtn = document.getElementById("stop");
  const statusEl = document.getElementById("status");
  const progressEl = document.getElementById("progress");
  const bestEl = document.getElementById("best");
  const frontierEl = document.getElementById("frontier");
  const types = ["init", "ready", "snapshot", "done", "stopped", "error"];
  let sessionId = null;
  let source = null;

  function render(view) {
    statusEl.textContent = view.status;
    progressEl.value = parseFloat(view.progress) || 0;
    bestEl.textContent = view.best;
    frontierEl.replaceChildren();
    for (const row of view.rows) {
      const li = document.createElement("li");
      const meta = document.createElement("span");
      meta.className = "meta";
      meta.textContent = row.complexity + " " + row.loss;
      const code = document.createElement("code");
      code.textContent = row.equation;
      const copy = document.createElement("button");
      copy.type = "button";
      copy.className = "copy";
      copy.dataset.eq = row.equation;
      copy.textContent = "Copy";
      li.append(meta, code, copy);
      frontierEl.append(li);
    }
    runBtn.disabled = !view.canRun;
    stopBtn.disabled = !view.canStop;
  }

  function follow(id) {
    if (source) source.close();
    source = new EventSource("/api/v1/sessions/" + id + "/stream");
    for (const type of types) {
      source.addEventListener(type, (msg) => {
        const ev = JSON.parse(msg.data);
        render(ev.view);
        if (type === "done" || type === "stopped" || type === "error") {
          source.close();
          source = null;
        }
      });
    }
  }

  function options() {
    const data = new FormData(form);
    const num = (name) => parseInt(data.get(name), 10) || 0;
    return {
      seed: num("seed"),
      niterations: num("niterations"),
      populations: num("populations"),
      population_size: num("population_size"),
      ncycles_per_iteration: num("ncycles_per_iteration"),
      maxsize: num("maxsize"),
      topn: num("topn"),
      has_headers: data.get("has_headers") !== null,
    };
  }

  form.addEventListener("submit", async (e) => {
    e.preventDefault();
    runBtn.disabled = true;
    const body = {
      csvText: document.getElementById("csv").value,
      options: options(),
      operators: document.getElementById("operators").value,
      stepCycles: parseInt(form.dataset.stepCycles, 10),
      snapshotEverySteps: parseInt(form.dataset.snapshotEvery, 10),
    };
    const resp = await fetch("/api/v1/sessions", {
      method: "POST",
      headers: { "Content-Type": "application/json" },
      body: JSON.stringify(body),
    });
    if (!resp.ok) {
      statusEl.textContent = "Error: " + (await resp.text()).trim();
      runBtn.disabled = false;
      return;
    }
    const created = await resp.json();
    sessionId = created.id;
    render(created.view);
    follow(sessionId);
  });

  stopBtn.addEventListener("click", async () => {
    if (!sessionId) return;
    stopBtn.disabled = true;
    await fetch("/api/v1/sessions/" + sessionId + "/stop", { method: "POST" });
  });

  frontierEl.addEventListener("click", (e) => {
    const btn = e.target.closest("button.copy");
    if (btn && navigator.clipboard) navigator.clipboard.writeText(btn.dataset.eq);
  });
})();
`
