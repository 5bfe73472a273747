package postgres

import "context"

const schema = `
create table if not exists identities (
	id                    text primary key,
	username              text not null,
	email                 text not null,
	password_hash         text not null,
	first_name            text not null default '',
	last_name             text not null default '',
	role                  text not null,
	mfa_enabled           boolean not null default false,
	mfa_secret            text not null default '',
	mfa_last_step         bigint not null default 0,
	mfa_enroll_step       bigint not null default 0,
	active                boolean not null default true,
	last_login            timestamptz,
	failed_login_attempts integer not null default 0,
	lock_until            timestamptz,
	created_at            timestamptz not null,
	updated_at            timestamptz not null,
	version               bigint not null default 1
);
alter table identities add column if not exists mfa_enroll_step bigint not null default 0;
create unique index if not exists identities_email_key on identities (lower(email));
create unique index if not exists identities_username_key on identities (lower(username));

create table if not exists sessions (
	id          text primary key,
	identity_id text not null,
	token_hash  text not null unique,
	ip          text not null default '',
	user_agent  text not null default '',
	expires_at  timestamptz not null,
	revoked     boolean not null default false,
	created_at  timestamptz not null
);
create index if not exists sessions_identity_idx on sessions (identity_id);
create index if not exists sessions_expires_idx on sessions (expires_at);

create table if not exists audit_events (
	id          text primary key,
	identity_id text,
	action      text not null,
	resource    text not null default '',
	ip          text not null default '',
	user_agent  text not null default '',
	status      text not null,
	details     jsonb,
	risk_score  integer,
	created_at  timestamptz not null
);
create index if not exists audit_events_identity_time_idx on audit_events (identity_id, created_at desc);
create index if not exists audit_events_action_time_idx on audit_events (action, created_at desc);
`

// Migrate creates the tables and indexes when missing. Safe to rerun.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}
