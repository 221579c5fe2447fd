// Package agent contains the dispatcher's turn handler. For every inbound
// activity it decides between three paths:
//
//  1. The "flush history" / "Obliviate" command, which truncates the chat
//     history of the conversation.
//  2. Direct dispatch, when the message starts with the @alias of a
//     registered remote agent.
//  3. General chat, where a language model answers with the handle_* dispatch
//     tools available; a dispatch tool that answered the user ends the turn
//     through the function-invocation gate.
//
// Conversation updates that add members receive a welcome block and
// signin/verifyState invokes continue a pending sign-in flow.
package agent
