package cdp

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum-optimism/infra/op-pagecheck/browser"
)

// resolverJS resolves a selector chain in document order and applies one
// operation. Single-element operations report the match count and leave the
// strictness decision to Go.
const resolverJS = `(function(chain, op, arg) {
	let els = [document];
	for (const part of chain) {
		if (part.nth !== undefined) {
			const n = part.nth < 0 ? els.length + part.nth : part.nth;
			els = (n >= 0 && n < els.length) ? [els[n]] : [];
			continue;
		}
		const seen = new Set();
		for (const root of els) {
			root.querySelectorAll(part.css).forEach(e => seen.add(e));
		}
		els = Array.from(seen).sort((a, b) => {
			if (a === b) return 0;
			return (a.compareDocumentPosition(b) & Node.DOCUMENT_POSITION_FOLLOWING) ? -1 : 1;
		});
	}
	const res = {count: els.length, found: false, str: "", bool: false, box: null};
	if (op === "count") {
		return res;
	}
	if (op === "visible" && els.length === 0) {
		return res;
	}
	if (els.length !== 1) {
		return res;
	}
	const el = els[0];
	switch (op) {
	case "text":
		res.str = el.textContent || "";
		res.found = true;
		break;
	case "attr": {
		const v = el.getAttribute(arg);
		res.found = v !== null;
		res.str = v === null ? "" : v;
		break;
	}
	case "visible": {
		const r = el.getBoundingClientRect();
		const s = window.getComputedStyle(el);
		res.bool = r.width > 0 && r.height > 0 && s.visibility !== "hidden" && s.visibility !== "collapse";
		res.found = true;
		break;
	}
	case "style":
		res.str = window.getComputedStyle(el).getPropertyValue(arg);
		res.found = true;
		break;
	case "box": {
		const r = el.getBoundingClientRect();
		res.box = {x: r.x, y: r.y, width: r.width, height: r.height};
		res.found = true;
		break;
	}
	case "docbox": {
		const r = el.getBoundingClientRect();
		res.box = {x: r.x + window.scrollX, y: r.y + window.scrollY, width: r.width, height: r.height};
		res.found = true;
		break;
	}
	case "point": {
		el.scrollIntoView({block: "center", inline: "center"});
		const r = el.getBoundingClientRect();
		res.box = {x: r.x + r.width / 2, y: r.y + r.height / 2, width: 0, height: 0};
		res.found = true;
		break;
	}
	}
	return res;
})`

// scrollJS scrolls by distance every interval ms until the page bottom has been passed.
const scrollJS = `new Promise((resolve) => {
	let total = 0;
	const timer = setInterval(() => {
		const height = document.body ? document.body.scrollHeight : 0;
		window.scrollBy(0, %d);
		total += %d;
		if (total >= height) {
			clearInterval(timer);
			resolve(total);
		}
	}, %d);
})`

type elementOp string

const (
	opCount   elementOp = "count"
	opText    elementOp = "text"
	opAttr    elementOp = "attr"
	opVisible elementOp = "visible"
	opStyle   elementOp = "style"
	opBox     elementOp = "box"
	opDocBox  elementOp = "docbox"
	opPoint   elementOp = "point"
)

type elementResult struct {
	Count int          `json:"count"`
	Found bool         `json:"found"`
	Str   string       `json:"str"`
	Bool  bool         `json:"bool"`
	Box   *browser.Box `json:"box"`
}

func elementExpr(sel browser.Selector, op elementOp, arg string) string {
	opJSON, _ := json.Marshal(string(op))
	argJSON, _ := json.Marshal(arg)
	return fmt.Sprintf("(%s)(%s, %s, %s)", resolverJS, sel.JSON(), opJSON, argJSON)
}
