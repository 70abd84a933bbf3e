package link

// linkPage embeds the provider's client-side Link widget. The widget posts
// its outcome to /get_access_token and signals /done when its UI flow ends.
const linkPage = `<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8">
  <title>fintab &mdash; link an account</title>
  <script src="https://cdn.plaid.com/link/v2/stable/link-initialize.js"></script>
</head>
<body>
  <h1>Link a bank account</h1>
  <button id="link-button">Open Link</button>
  <script>
    const post = (path, body) =>
      fetch(path, {
        method: 'POST',
        headers: { 'Content-Type': 'application/json' },
        body: JSON.stringify(body || {})
      });

    const handler = Plaid.create({
      clientName: 'fintab',
      env: '{{.Environment}}',
      key: '{{.PublicKey}}',
      product: ['transactions'],
      onSuccess: async (public_token) => {
        await post('/get_access_token', { public_token });
        await post('/done');
        document.body.innerHTML = '<p>Account linked. You can close this tab.</p>';
      },
      onExit: async (err) => {
        if (err != null) {
          await post('/get_access_token', { error: err });
        } else {
          await post('/get_access_token', { exit: true });
        }
        await post('/done');
        document.body.innerHTML = '<p>Link closed. You can close this tab.</p>';
      }
    });

    document.getElementById('link-button').onclick = () => handler.open();
  </script>
</body>
</html>
`
