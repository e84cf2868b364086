package sqlinline

const QInsertProject = `--sql e2605b89-75c9-46a9-a76c-01761323552d
insert into projects (id, title, author, orcid, description, media_url, hpc_provider, gpu_hours, goal_amount, currency, wallet_address, creator_id, created_at)
values ($1::uuid, $2::text, $3::text, $4::text, $5::text, $6::text, $7::text, $8::numeric, $9::numeric, $10::text, $11::text, $12::text, $13::timestamptz);
`

const QSelectProjectByID = `--sql e039b331-f0d1-4961-aef7-710dae2d8e4c
select p.id::text, p.title, p.author, p.orcid, p.description, p.media_url, p.hpc_provider,
       p.gpu_hours::text, p.goal_amount::text, p.currency, p.wallet_address, p.creator_id, p.created_at,
       coalesce((select jsonb_object_agg(t.currency, t.raised_amount::text) from project_totals t where t.project_id = p.id), '{}'::jsonb)
from projects p
where p.id = $1::uuid
limit 1;
`

const QListProjects = `--sql f87fa490-c835-42d3-98d5-ead421e03dbc
select p.id::text, p.title, p.author, p.orcid, p.description, p.media_url, p.hpc_provider,
       p.gpu_hours::text, p.goal_amount::text, p.currency, p.wallet_address, p.creator_id, p.created_at,
       coalesce((select jsonb_object_agg(t.currency, t.raised_amount::text) from project_totals t where t.project_id = p.id), '{}'::jsonb)
from projects p
order by p.created_at desc
limit $1::int;
`

const QListProjectsByCreator = `--sql de362f3a-2c5e-46fd-b82a-0fbc55af7906
select p.id::text, p.title, p.author, p.orcid, p.description, p.media_url, p.hpc_provider,
       p.gpu_hours::text, p.goal_amount::text, p.currency, p.wallet_address, p.creator_id, p.created_at,
       coalesce((select jsonb_object_agg(t.currency, t.raised_amount::text) from project_totals t where t.project_id = p.id), '{}'::jsonb)
from projects p
where p.creator_id = $1::text
order by p.created_at desc;
`

const QInsertProjectUpdate = `--sql 1420845d-3d01-4ede-8d14-a0d2f89039bc
insert into project_updates (id, project_id, body, created_at)
values ($1::uuid, $2::uuid, $3::text, $4::timestamptz);
`

const QListProjectUpdates = `--sql cda05d03-2cdb-44f0-8db6-0e8178ad0ca4
select id::text, project_id::text, body, created_at
from project_updates
where project_id = $1::uuid
order by created_at desc;
`
