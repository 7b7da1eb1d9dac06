package automation

import "strconv"

// DiscordTemplateVariables documents the commonly used discord.* variables.
var DiscordTemplateVariables = []TemplateVariable{
	{"discord.id", "Message ID", "Unique identifier of the Discord message received via the webhook."},
	{"discord.type", "Message type", "Numeric Discord type for the message payload (0 = default message)."},
	{"discord.content", "Message content", "Text body of the incoming Discord message."},
	{"discord.channel_id", "Channel ID", "Identifier of the Discord channel that published the webhook event."},
	{"discord.guild_id", "Guild ID", "Identifier of the Discord guild/server associated with the event, if any."},
	{"discord.webhook_id", "Webhook ID", "Identifier of the webhook configuration that emitted the message."},
	{"discord.timestamp", "Created timestamp", "ISO 8601 timestamp (UTC) when Discord created the message."},
	{"discord.edited_timestamp", "Edited timestamp", "ISO 8601 timestamp (UTC) when the message was last edited, if ever."},
	{"discord.author.username", "Author username", "Discord username of the author who created the message."},
	{"discord.author.id", "Author ID", "Unique identifier for the Discord user that posted the webhook message."},
	{"discord.author.global_name", "Author display name", "Global display name for the Discord user when provided."},
	{"discord.author.bot", "Author is bot", "Indicates whether the message author is a bot user (\"true\" or \"false\")."},
	{"discord.attachments_count", "Attachments count", "Number of attachments included with the message."},
	{"discord.embeds_count", "Embeds count", "Number of rich embeds included with the message."},
	{"discord.mentions_count", "Mentions count", "Number of users mentioned in the message."},
	{"discord.raw", "Raw payload", "Complete serialized JSON payload received from Discord."},
}

// BuildDiscordVariables maps a Discord message payload onto discord.*
// template variables. Missing fields render as empty strings.
func BuildDiscordVariables(msg map[string]any) Variables {
	if msg == nil {
		msg = map[string]any{}
	}
	vars := make(Variables)
	add := func(key string, value any) { vars[key] = SerializeValue(value) }
	withDefault := func(key string, def any) any {
		if v, ok := msg[key]; ok && v != nil {
			return v
		}
		return def
	}

	for _, field := range []string{"id", "type", "content", "channel_id", "guild_id", "webhook_id",
		"application_id", "timestamp", "edited_timestamp", "flags"} {
		add("discord."+field, msg[field])
	}
	add("discord.mention_everyone", withDefault("mention_everyone", false))
	add("discord.tts", withDefault("tts", false))
	add("discord.pinned", withDefault("pinned", false))

	for _, list := range []string{"attachments", "embeds", "mentions", "mention_roles"} {
		items, _ := msg[list].([]any)
		if items == nil {
			items = []any{}
		}
		vars["discord."+list+"_count"] = strconv.Itoa(len(items))
		add("discord."+list, items)
	}

	author := asObject(msg["author"])
	for _, field := range []string{"id", "username", "discriminator", "global_name", "avatar", "bot"} {
		add("discord.author."+field, author[field])
	}

	thread := asObject(msg["thread"])
	for _, field := range []string{"id", "name", "archived", "auto_archive_duration"} {
		add("discord.thread."+field, thread[field])
	}

	interaction := asObject(msg["interaction"])
	for _, field := range []string{"id", "name", "type"} {
		add("discord.interaction."+field, interaction[field])
	}
	add("discord.interaction.user_id", asObject(interaction["user"])["id"])

	reference := asObject(msg["message_reference"])
	add("discord.message_reference.id", reference["message_id"])
	add("discord.message_reference.channel_id", reference["channel_id"])
	add("discord.message_reference.guild_id", reference["guild_id"])

	add("discord.referenced_message", asObject(msg["referenced_message"]))
	add("discord.member", asObject(msg["member"]))
	add("discord.raw", msg)
	return vars
}

func asObject(value any) map[string]any {
	if m, ok := value.(map[string]any); ok {
		return m
	}
	return map[string]any{}
}
