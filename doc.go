// Package conncall delivers asynchronous notifications for outbound
// connections of a backend-as-a-service client.
//
// A caller starts a connection with three handlers. The transport driver
// runs on its own goroutine and the client reports back through the
// handlers:
//
//	initiated -> (progress)* -> (completed | failed)
//
// Exactly one of the completion or failure handlers fires, exactly once.
// Progress handlers may fire any number of times, always before the
// terminal notification.
//
// # Basic Usage
//
//	client, err := conncall.NewClient()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	conn, err := client.Start(ctx, conncall.Request{Method: "GET", URL: url}, driver, conncall.Handlers{
//	    Progress:   func(c *conncall.Connection) { fmt.Println(c.BytesReceived()) },
//	    Completion: func(resp *conncall.Response) { fmt.Println(resp.StatusCode()) },
//	    Failure:    func(err error) { fmt.Println(err) },
//	})
//
// # Delivery
//
// Handlers run on delivery lanes, never on the driver goroutine. With the
// default single lane every notification of every connection runs on one
// goroutine, one at a time. WithDeliveryWorkers shards connections over
// several lanes; each connection keeps its order. Progress notifications
// that queue up behind a slow handler are merged, so the driver is never
// blocked by a handler.
//
// # Cancellation and timeouts
//
// Connection.Cancel, cancellation of the context passed to Start, the
// connection timeout and Client.Close all end a connection with a failure
// notification; a cancelled connection never completes.
package conncall
