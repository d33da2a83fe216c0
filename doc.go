/*
Package frontdoor runs one HTTP handler on several listeners at once, possibly
on different ports, hostnames and with different TLS credentials.

A Controller owns the lifecycle:

	c := frontdoor.New(frontdoor.Stages(auth, api, content))
	err := c.Start(ctx, config.File("frontdoor.json"))
	...
	c.Stop(ctx)

Start first runs the stages in order against a shared HandlerContext, where
they attach middleware and routes. The built handler is then served by one
listener per configured instance. Listeners are created concurrently and
either all of them bind, or Start closes the ones that did and fails.
Stop closes every listener. Restarting is the only way to reconfigure.

The configuration file is JSON (allowing "//" comments) or YAML:

	{
	   "Instances" : [
	       { "Protocol" : "plain", "Port" : 8080, "Hostname" : "localhost" },
	       { "Protocol" : "secured", "Port" : 8443, "Hostname" : "localhost",
	         "KeyPath" : "k.pem", "CertPath" : "c.pem" }
	   ],
	   "PrimaryInstanceIndex" : 0,
	   "Stages" : [ "auth", "api", "content" ]
	}

Secured instances take either "BundlePath" (PKCS#12 or a PEM file holding key
and certificate) or both "KeyPath" and "CertPath". Credentials are read from
disk each time the listener is created.
*/
package frontdoor
