package browser

// probeJS is installed into every monitored page. It forwards raw user
// interaction and page health events into a buffer that the monitor
// drains on a short poll. All interpretation happens server-side; the
// probe only reports.
const probeJS = `
() => {
	const w = window;
	if (w.__assistnerdHooked) return true;
	w.__assistnerdHooked = true;
	w.__assistnerdEvents = [];

	const push = (ev) => {
		ev.ts = Date.now();
		w.__assistnerdEvents.push(ev);
		if (w.__assistnerdEvents.length > 1000) {
			w.__assistnerdEvents.shift();
		}
	};

	const selectorFor = (el) => {
		if (!el || el.nodeType !== 1) return '';
		if (el.id) return '#' + el.id;
		let sel = el.tagName.toLowerCase();
		const cls = (typeof el.className === 'string' ? el.className : '')
			.trim().split(/\s+/).filter(Boolean).slice(0, 2);
		if (cls.length) sel += '.' + cls.join('.');
		const parent = el.parentElement;
		if (parent && parent !== document.body && parent.id) {
			sel = '#' + parent.id + ' ' + sel;
		}
		return sel;
	};

	// Console errors. The original method still runs.
	const origError = console.error;
	console.error = function (...args) {
		try {
			const msg = args.map(a => {
				if (a instanceof Error) return a.message;
				if (typeof a === 'object') { try { return JSON.stringify(a); } catch (e) { return String(a); } }
				return String(a);
			}).join(' ');
			push({ type: 'console_error', message: msg.substring(0, 500) });
		} catch (e) {}
		return origError.apply(console, args);
	};

	window.addEventListener('error', (ev) => {
		push({
			type: 'script_error',
			message: String(ev.message || '').substring(0, 500),
			stack: ev.error && ev.error.stack ? String(ev.error.stack).substring(0, 1000) : ''
		});
	});

	window.addEventListener('unhandledrejection', (ev) => {
		const reason = ev.reason;
		push({
			type: 'promise_rejection',
			message: (reason && reason.message ? reason.message : String(reason)).substring(0, 500),
			stack: reason && reason.stack ? String(reason.stack).substring(0, 1000) : ''
		});
	});

	// User interaction stream.
	document.addEventListener('click', (ev) => {
		try {
			push({ type: 'click', element: selectorFor(ev.target), x: ev.clientX, y: ev.clientY });
		} catch (e) {}
	}, true);

	const isFormField = (el) =>
		el && (el.tagName === 'INPUT' || el.tagName === 'TEXTAREA' || el.tagName === 'SELECT');

	document.addEventListener('focusin', (ev) => {
		if (!isFormField(ev.target)) return;
		push({
			type: 'form_focus',
			field: selectorFor(ev.target),
			fieldType: (ev.target.type || ev.target.tagName).toLowerCase()
		});
	}, true);

	document.addEventListener('input', (ev) => {
		if (!isFormField(ev.target)) return;
		push({ type: 'form_input', field: selectorFor(ev.target) });
	}, true);

	document.addEventListener('focusout', (ev) => {
		if (!isFormField(ev.target)) return;
		push({
			type: 'form_blur',
			field: selectorFor(ev.target),
			empty: !(ev.target.value && ev.target.value.trim())
		});
	}, true);

	// Any key press counts as activity. Throttled, except Escape which
	// always goes through.
	let lastKey = 0;
	document.addEventListener('keydown', (ev) => {
		if (ev.key === 'Escape') {
			push({ type: 'escape' });
			return;
		}
		const now = Date.now();
		if (now - lastKey < 500) return;
		lastKey = now;
		push({ type: 'keydown' });
	}, true);

	// Mouse movement, throttled. The server uses it only to reset the
	// idle timer.
	let lastMove = 0;
	document.addEventListener('mousemove', () => {
		const now = Date.now();
		if (now - lastMove < 500) return;
		lastMove = now;
		push({ type: 'mousemove' });
	}, true);

	window.addEventListener('popstate', () => {
		push({ type: 'navigation', url: location.href, back: true });
	});

	// Structural observer: report nodes whose markup suggests an error
	// banner, an empty-state placeholder, or a loading indicator.
	const interesting = /error|alert|danger|invalid|warning|empty|no-data|no-results|placeholder|blank|loading|spinner|skeleton|progress|shimmer/i;

	const report = (roots) => {
		const nodes = [];
		const consider = (el) => {
			if (!el || el.nodeType !== 1) return;
			const classes = typeof el.className === 'string' ? el.className : '';
			const role = el.getAttribute('role') || '';
			const ariaBusy = el.getAttribute('aria-busy') || '';
			const dataErr = el.getAttribute('data-error') || '';
			if (!interesting.test(classes) && role !== 'alert' && ariaBusy !== 'true' && !dataErr) return;
			nodes.push({
				element: selectorFor(el),
				tag: el.tagName.toLowerCase(),
				classes: classes.substring(0, 300),
				role: role,
				text: (el.textContent || '').trim().substring(0, 300),
				data_error: !!dataErr,
				aria_busy: ariaBusy === 'true'
			});
		};
		roots.forEach((node) => {
			consider(node);
			if (node.querySelectorAll) {
				node.querySelectorAll('[class], [role], [aria-busy]').forEach(consider);
			}
		});
		if (nodes.length) push({ type: 'node_report', nodes: nodes.slice(0, 50) });
	};

	const obs = new MutationObserver((mutations) => {
		const added = [];
		mutations.forEach((m) => {
			if (m.type === 'childList') {
				m.addedNodes.forEach((n) => added.push(n));
			} else if (m.type === 'attributes' && m.target) {
				added.push(m.target);
			}
		});
		if (added.length) report(added);
	});
	obs.observe(document.documentElement || document.body, {
		childList: true,
		subtree: true,
		attributes: true,
		attributeFilter: ['class', 'role', 'aria-busy', 'data-error']
	});

	// Initial scan so pre-existing banners are seen.
	report([document.body || document.documentElement]);
	return true;
}
`

// drainJS empties the probe's event buffer.
const drainJS = `
() => {
	const buf = Array.isArray(window.__assistnerdEvents) ? window.__assistnerdEvents : [];
	window.__assistnerdEvents = [];
	return buf;
}
`
