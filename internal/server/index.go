package server

// indexHTML is a minimal control page driving the websocket API
const indexHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>HAR Capture</title>
    <link rel="stylesheet" href="https://cdn.jsdelivr.net/npm/@picocss/pico@2/css/pico.min.css">
</head>
<body>
<main class="container">
    <h1>HAR Capture</h1>
    <p id="status">Connecting...</p>
    <div class="grid">
        <button id="single" onclick="trigger('single')">Start Recording</button>
        <button id="continuous" onclick="trigger('continuous')">Start Continuous Recording</button>
        <button id="labelled" onclick="trigger('labelled')">Start Labelled Recording</button>
    </div>
    <dialog id="label-dialog">
        <article>
            <h3>Enter activity label</h3>
            <input id="label" type="text" placeholder="StarJumps">
            <footer>
                <button class="secondary" onclick="send({action: 'cancel_label'}); closeLabel()">Cancel</button>
                <button onclick="send({action: 'label', label: document.getElementById('label').value}); closeLabel()">Submit</button>
            </footer>
        </article>
    </dialog>
    <button class="outline" onclick="send({action: 'toggle_history'})">Show/Hide History</button>
    <pre id="history" hidden></pre>
</main>
<script>
const ws = new WebSocket((location.protocol === 'https:' ? 'wss://' : 'ws://') + location.host + '/ws');
function send(msg) { ws.send(JSON.stringify(msg)); }
function trigger(mode) { send({action: 'trigger', mode: mode}); }
function closeLabel() { document.getElementById('label-dialog').close(); document.getElementById('label').value = ''; }
function applySession(s) {
    const b = document.getElementById(s.mode);
    b.textContent = s.control_text;
    b.disabled = !s.enabled;
}
ws.onmessage = (e) => {
    const msg = JSON.parse(e.data);
    if (msg.type === 'status') {
        msg.sessions.forEach(applySession);
        const active = msg.sessions.find(s => s.state !== 'IDLE');
        document.getElementById('status').textContent = (active || msg.sessions[0]).status;
    } else if (msg.type === 'event') {
        const ev = msg.event;
        if (ev.kind === 'control') {
            const b = document.getElementById(ev.mode);
            b.textContent = ev.text;
            b.disabled = !ev.enabled;
        } else if (ev.kind === 'label_prompt') {
            document.getElementById('label-dialog').showModal();
        } else if (ev.text) {
            document.getElementById('status').textContent = ev.text;
        }
    } else if (msg.type === 'history') {
        const h = document.getElementById('history');
        h.hidden = !msg.visible;
        h.textContent = msg.history || '';
    } else if (msg.type === 'error') {
        document.getElementById('status').textContent = msg.error;
    }
};
</script>
</body>
</html>`
