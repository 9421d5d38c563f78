package simulate

import (
	"strings"
	"time"

	"coldreach/models"
)

// Reply templates per category, with {{placeholder}} substitution. The
// category decides both tone and subject line.
var replyTemplates = map[models.ThreadCategory][]string{
	models.CategoryInterested: {
		"Hi {{senderName}},\n\nThank you for reaching out! This sounds interesting. I'd love to learn more about what you're offering.\n\nCould we schedule a quick call this week?\n\nBest,\n{{recipientName}}",
		"Hello,\n\nI've been looking for a solution like this. Let's set up a meeting to discuss further.\n\nWhat times work for you?\n\nRegards,\n{{recipientName}}",
		"Hi there,\n\nYour email caught my attention. Please send me more information about pricing and features.\n\nThanks,\n{{recipientName}}",
	},
	models.CategoryNotInterested: {
		"Hi,\n\nThanks for thinking of us, but we're not interested at this time.\n\nPlease remove me from your list.\n\nBest,\n{{recipientName}}",
		"Hello,\n\nWe're all set in this area and not looking to make any changes.\n\nThanks anyway.\n\nRegards,\n{{recipientName}}",
		"Thanks, but we're not in the market for this. Please don't follow up.\n\n{{recipientName}}",
	},
	models.CategoryOOO: {
		"I am currently out of the office and will return on {{returnDate}}.\n\nFor urgent matters, please contact {{alternateContact}}.\n\nI will respond to your email upon my return.\n\nThank you,\n{{recipientName}}",
		"Thank you for your email. I am out of the office with limited access to email until {{returnDate}}.\n\nI will get back to you as soon as possible.\n\nBest regards,\n{{recipientName}}",
	},
	models.CategoryNeutral: {
		"Hi,\n\nCould you tell me more about how this works? I'm not sure I understand the value proposition.\n\nThanks,\n{{recipientName}}",
		"Hello,\n\nWho else in your company uses this? Any case studies you can share?\n\nRegards,\n{{recipientName}}",
		"Hi,\n\nI need to check with my team on this. Can you send more details I can forward to them?\n\nThanks,\n{{recipientName}}",
	},
	models.CategoryBounce: {
		"Mail delivery failed: returning message to sender.\n\nThis message was created automatically by mail delivery software.\n\nA message that you sent could not be delivered to one or more of its recipients.",
		"Delivery Status Notification (Failure)\n\nYour message to {{recipientEmail}} couldn't be delivered.\n\nThe email account that you tried to reach does not exist.",
	},
	models.CategorySpam: {
		"This sender has been reported as spam.",
		"Your message was marked as spam by the recipient.",
	},
}

// ReplyContent generates the subject and body of a simulated inbound reply.
func (s *Simulator) ReplyContent(category models.ThreadCategory, recipientName, senderName, recipientEmail string) (subject, body string) {
	templates, ok := replyTemplates[category]
	if !ok {
		templates = replyTemplates[models.CategoryNeutral]
	}
	template := templates[s.IntBetween(0, len(templates)-1)]

	// OOO replies name a return date one to two weeks out
	returnDate := time.Now().AddDate(0, 0, s.IntBetween(1, 14)).Format("January 2")

	if recipientName == "" {
		recipientName = "There"
	}
	if senderName == "" {
		senderName = "there"
	}

	body = strings.NewReplacer(
		"{{recipientName}}", recipientName,
		"{{senderName}}", senderName,
		"{{recipientEmail}}", recipientEmail,
		"{{returnDate}}", returnDate,
		"{{alternateContact}}", "support@company.com",
	).Replace(template)

	switch category {
	case models.CategoryInterested:
		subject = "Re: Your email - Let's connect"
	case models.CategoryNotInterested:
		subject = "Re: Your email - Not interested"
	case models.CategoryOOO:
		subject = "Out of Office Re: Your email"
	case models.CategoryBounce:
		subject = "Delivery Status Notification (Failure)"
	case models.CategorySpam:
		subject = "Spam Notification"
	case models.CategoryNeutral:
		subject = "Re: Your email"
	default:
		subject = "Re: Your email"
	}

	return subject, body
}
