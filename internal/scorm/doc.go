// Package scorm implements the runtime bridge between sandboxed SCORM
// content and the host.
//
// Content talks to an API object bound as window.API (SCORM 1.2) and
// window.API_1484_11 (SCORM 2004). Calls always return success strings and
// never block; progress-relevant calls are serialized as Message values and
// posted onto a bounded Outbox. A Host drains the outbox, validates each
// message and maintains the session's Progress.
//
// Delivery is at-most-once. A full or closed outbox drops the message.
package scorm
