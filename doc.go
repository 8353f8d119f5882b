// Copyright 2019 Johan Lindh. All rights reserved.
// Use of this source code is governed by the MIT license, see the LICENSE file.

/*
Package was implements the worker side of the Web Application Socket protocol.

The Web Application Socket protocol, or WAS for short, is a local protocol
between a web server and a long-lived worker process. The web server hands
off HTTP requests to the worker through three inherited file descriptors: a
bidirectional control channel carrying typed command packets, a read-only
pipe carrying raw request body bytes, and a write-only pipe carrying raw
response body bytes.

A Session is bound to one such descriptor triple and handles a stream of
requests serially. The application calls Accept to wait for the next
request, inspects the request attributes, reads the request body, sets the
response status and headers, writes the response body and calls End (or
simply the next Accept). The API is synchronous, but every blocking call
waits on the control channel as well as the relevant body pipe, so that
out-of-band peer commands such as STOP, PREMATURE and METRIC are serviced
without deadlocking.

A Packet is the basic structure on the control channel. It consists of a
16-bit command code, a 16-bit payload length and the payload bytes. */
package was
