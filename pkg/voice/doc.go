// Package voice runs a hands-free spoken conversation.
//
// An Orchestrator connects three pieces: a speech.Capture that turns the
// microphone into utterances, an inference.Provider that answers them, and a
// speech.Output that speaks the answer. It cycles through the states
//
//	idle -> listening -> thinking -> speaking -> listening -> ...
//
// until Stop (any state to stopped) or Finish (reply completes, then idle).
// Capture is closed while the assistant thinks and speaks, so the assistant
// never hears itself, and reopened after a short grace delay.
//
// # Usage
//
//	capture := speech.NewCapture(engine)
//	output := speech.NewOutput(chain, player, logger) // chain: tts.NewChain(cloud, local)
//	chat := inference.NewRotating(openai, pool)
//
//	o, err := voice.New(chat, capture, output, voice.DefaultConfig().WithUserName("Sam"))
//	if err != nil {
//	    return err
//	}
//	events, unsubscribe := o.Subscribe()
//	defer unsubscribe()
//
//	if err := o.Start(ctx); err != nil {
//	    return err
//	}
//
// # Errors
//
// Failures are sorted by Classify into retryable, credential and fatal
// classes. A failed completion is answered with a short spoken fallback and
// the loop keeps listening. Fatal capture errors, such as a denied
// microphone, move the orchestrator to StateError until Retry.
//
// # History
//
// Each session keeps an ordered history that starts with the system prompt.
// Every completion request carries the full history. When a transcript.Store
// is configured the history is saved after each reply and the session is
// given a short title. Stop and Finish discard the history; the saved
// transcript is the only record left.
package voice
