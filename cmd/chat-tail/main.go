// Command chat-tail prints a YouTube live chat to the terminal. It either polls
// YouTube directly for one channel, handle or broadcast, or follows the events
// a running ytlivechat server publishes to Redis.
package main

func main() {
	Execute()
}
