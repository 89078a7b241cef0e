/*
Package sandbox runs SCORM content headlessly inside a goja JavaScript VM.

# Overview

A Runtime is an isolated global scope standing in for the content web view.
It exposes:

  - window, self, parent and top, all aliasing the global object
  - the runtime API bound as API and API_1484_11 (see BindAPI)
  - console, forwarded to the session logger
  - document, a proxy over the page parsed by goquery
  - setTimeout callbacks, run in order after page scripts
  - load listeners, fired once after the scripts

require, process, module and exports are removed. Every script runs under
a timeout and the caller's context; either interrupts the VM.

# Loading

Loader fetches the content URL with resty, rejects bodies that do not sniff
as HTML, converts the declared or detected charset to UTF-8, and resolves
external scripts against the page URL. Any failure to obtain the page is a
scorm.LoadError, which the player reports as content_failed_to_load.

# Pooling

Pool keeps warm runtimes. A runtime is held by one runtime session and reset
when the session ends.
*/
package sandbox
